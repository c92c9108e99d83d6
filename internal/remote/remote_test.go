package remote

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every request in kind: pings are echoed, quits
// acknowledged, everything else errors.
func echoServer(t *testing.T) *Remote {
	t.Helper()
	rem, err := RunServer("127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for req := range rem.requests {
			switch req.Kind {
			case ReqPing:
				rem.responses <- Response{Kind: RespPing, Ping: req.Ping}
			case ReqQuit:
				rem.responses <- Response{Kind: RespQuit}
				return
			default:
				rem.responses <- ErrorResponse("Unsupported")
			}
		}
	}()
	return rem
}

func dialController(t *testing.T, rem *Remote) (net.Conn, *bufio.Scanner) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", rem.Addr(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn, bufio.NewScanner(conn)
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func readResponse(t *testing.T, scanner *bufio.Scanner) Response {
	t.Helper()
	require.True(t, scanner.Scan(), "expected a response line")
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestInvalidRequestGetsErrorLine(t *testing.T) {
	rem := echoServer(t)
	conn, scanner := dialController(t, rem)

	sendLine(t, conn, "Quit!")
	resp := readResponse(t, scanner)
	assert.Equal(t, RespError, resp.Kind)
	assert.Contains(t, resp.Error, "Invalid request")

	// The connection survives a bad line.
	sendLine(t, conn, `{"Ping":55}`)
	resp = readResponse(t, scanner)
	assert.Equal(t, RespPing, resp.Kind)
	assert.Equal(t, uint32(55), resp.Ping)
}

func TestPingQuitSequence(t *testing.T) {
	rem := echoServer(t)
	conn, scanner := dialController(t, rem)

	for _, ping := range []uint32{1, 2, 3} {
		data, err := json.Marshal(Request{Kind: ReqPing, Ping: ping})
		require.NoError(t, err)
		sendLine(t, conn, string(data))
		resp := readResponse(t, scanner)
		require.Equal(t, RespPing, resp.Kind)
		assert.Equal(t, ping, resp.Ping)
	}

	sendLine(t, conn, `"Quit"`)
	resp := readResponse(t, scanner)
	assert.Equal(t, RespQuit, resp.Kind)

	// Quit shuts the listener down.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := net.DialTimeout("tcp", rem.Addr(), 100*time.Millisecond); err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("listener still accepting after Quit")
}

func TestUpdateFrameFollowsResponse(t *testing.T) {
	rem := echoServer(t)
	conn, scanner := dialController(t, rem)

	rem.SendUpdate(Update(`{"Score":[10,20]}`))
	sendLine(t, conn, `{"Ping":9}`)

	resp := readResponse(t, scanner)
	assert.Equal(t, RespPing, resp.Kind)

	require.True(t, scanner.Scan(), "expected the queued update after the response")
	assert.JSONEq(t, `{"Score":[10,20]}`, scanner.Text())
}
