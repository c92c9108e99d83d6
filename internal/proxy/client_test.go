package proxy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClientPair(t *testing.T) (*websocket.Conn, *Client) {
	t.Helper()
	clients := make(chan *Client, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		clients <- NewClient(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	select {
	case c := <-clients:
		return peer, c
	case <-time.After(2 * time.Second):
		t.Fatal("no client arrived")
		return nil, nil
	}
}

func TestTryRecvEmptyThenData(t *testing.T) {
	peer, client := newClientPair(t)

	_, _, ok := client.TryRecv()
	assert.False(t, ok)

	require.NoError(t, peer.WriteMessage(websocket.BinaryMessage, []byte("frame")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err, ok := client.TryRecv()
		if ok {
			require.NoError(t, err)
			assert.Equal(t, []byte("frame"), data)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("frame never arrived")
}

func TestRecvBlocksUntilFrame(t *testing.T) {
	peer, client := newClientPair(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = peer.WriteMessage(websocket.BinaryMessage, []byte("late"))
	}()

	data, err := client.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("late"), data)
}

func TestSendReachesPeer(t *testing.T) {
	peer, client := newClientPair(t)

	require.NoError(t, client.Send([]byte("hello")))
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte("hello"), data)
}

func TestPeerCloseSurfacesAsConnClosed(t *testing.T) {
	peer, client := newClientPair(t)
	peer.Close()

	_, err := client.Recv()
	assert.True(t, errors.Is(err, ErrConnClosed), "got %v", err)

	// Subsequent reads keep reporting the closed connection.
	_, err = client.Recv()
	assert.True(t, errors.Is(err, ErrConnClosed), "got %v", err)
}

func TestTextFramesAreRejected(t *testing.T) {
	peer, client := newClientPair(t)
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte("nope")))

	_, err := client.Recv()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConnClosed))
}

func TestCloseIsIdempotent(t *testing.T) {
	_, client := newClientPair(t)
	client.Close()
	client.Close()
}
