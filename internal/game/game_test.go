package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sc2proxy/internal/portconfig"
	"sc2proxy/pkg/config"
	"sc2proxy/pkg/sc2"
)

func TestLedgerGameOverIsAuthoritative(t *testing.T) {
	ol := newOutcomeLedger(2)
	ol.apply(ToGame{PlayerIndex: 0, Content: GameOver{
		Results: []sc2.PlayerResult{sc2.ResultVictory, sc2.ResultDefeat},
	}})

	assert.True(t, ol.complete())
	assert.Equal(t, []sc2.PlayerResult{sc2.ResultVictory, sc2.ResultDefeat}, ol.results())
}

func TestLedgerDuplicateGameOverDiscarded(t *testing.T) {
	ol := newOutcomeLedger(2)
	ol.apply(ToGame{PlayerIndex: 0, Content: GameOver{
		Results: []sc2.PlayerResult{sc2.ResultVictory, sc2.ResultDefeat},
	}})
	// The losing side's engine reports the same ending; also later terminal
	// events must not overwrite decided slots.
	ol.apply(ToGame{PlayerIndex: 1, Content: GameOver{
		Results: []sc2.PlayerResult{sc2.ResultDefeat, sc2.ResultVictory},
	}})
	ol.apply(ToGame{PlayerIndex: 0, Content: ClientConnClosed{}})

	assert.Equal(t, []sc2.PlayerResult{sc2.ResultVictory, sc2.ResultDefeat}, ol.results())
}

func TestLedgerGameOverMayCoverComputerSlots(t *testing.T) {
	// One participant against a builtin AI: the engine reports both slots.
	ol := newOutcomeLedger(1)
	ol.apply(ToGame{PlayerIndex: 0, Content: GameOver{
		Results: []sc2.PlayerResult{sc2.ResultDefeat, sc2.ResultVictory},
	}})

	assert.True(t, ol.complete())
	assert.Equal(t, []sc2.PlayerResult{sc2.ResultDefeat, sc2.ResultVictory}, ol.results())
}

func TestLedgerTerminalEventsMarkDefeat(t *testing.T) {
	ol := newOutcomeLedger(2)
	assert.False(t, ol.complete())

	ol.apply(ToGame{PlayerIndex: 0, Content: ClientConnClosed{}})
	assert.False(t, ol.complete())

	ol.apply(ToGame{PlayerIndex: 1, Content: QuitBeforeLeave{}})
	assert.True(t, ol.complete())
	assert.Equal(t, []sc2.PlayerResult{sc2.ResultDefeat, sc2.ResultDefeat}, ol.results())
}

func TestLedgerIgnoresOutOfRangeIndex(t *testing.T) {
	ol := newOutcomeLedger(1)
	ol.apply(ToGame{PlayerIndex: 5, Content: EngineConnClosed{}})
	ol.apply(ToGame{PlayerIndex: -1, Content: EngineConnClosed{}})
	assert.False(t, ol.complete())
}

func TestLedgerTimeLimitFillsUndecided(t *testing.T) {
	ol := newOutcomeLedger(3)
	ol.apply(ToGame{PlayerIndex: 1, Content: GameOver{
		Results: []sc2.PlayerResult{sc2.ResultVictory, sc2.ResultTie, sc2.ResultTie},
	}})
	// Wholesale replacement decided everything; a time limit afterwards
	// changes nothing.
	ol.apply(ToGame{PlayerIndex: 0, Content: TimeLimitExceeded{}})
	assert.Equal(t, []sc2.PlayerResult{sc2.ResultVictory, sc2.ResultTie, sc2.ResultTie}, ol.results())

	ol = newOutcomeLedger(3)
	ol.apply(ToGame{PlayerIndex: 2, Content: LeftGame{}})
	ol.apply(ToGame{PlayerIndex: 0, Content: TimeLimitExceeded{}})
	assert.True(t, ol.complete())
	assert.True(t, ol.quitPlayers)
	assert.Equal(t, []sc2.PlayerResult{sc2.ResultDefeat, sc2.ResultDefeat, sc2.ResultDefeat}, ol.results())
}

func TestChannelToGameRoundTrip(t *testing.T) {
	toGame, commands, channels := createChannels(2)
	require.Len(t, commands, 2)
	require.Len(t, channels, 2)

	channels[1].Send(LeftGame{})
	msg := <-toGame
	assert.Equal(t, 1, msg.PlayerIndex)
	assert.IsType(t, LeftGame{}, msg.Content)

	_, ok := channels[0].TryRecv()
	assert.False(t, ok)

	commands[0] <- ToPlayerQuit
	cmd, ok := channels[0].TryRecv()
	require.True(t, ok)
	assert.Equal(t, ToPlayerQuit, cmd)
}

func TestHandleReportsPanicAsFailure(t *testing.T) {
	h := &Handle{
		result:    make(chan GameResult, 1),
		commands:  make(chan FromSupervisor, 1),
		survivors: make(chan []*Player, 1),
		failure:   make(chan string, 1),
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.failure <- "boom"
			}
		}()
		panic("boom")
	}()

	for !h.Check() {
	}
	_, _, err := h.CollectResult()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

// TestQuitTearsDownIdlePlayers covers the shutdown path end to end: the only
// player is parked on a client read and never sends anything, so the game can
// finish only by unblocking it. Check must not report done before the player
// task is joined, or CollectResult would block.
func TestQuitTearsDownIdlePlayers(t *testing.T) {
	p, _, _ := fakeEnginePlayer(t)
	ports, err := portconfig.New()
	require.NoError(t, err)

	g := newGame(3, config.Default(), []*Player{p}, ports)
	h := Spawn(g)
	h.Send(FromSupervisorQuit)

	deadline := time.Now().Add(5 * time.Second)
	for !h.Check() {
		if time.Now().After(deadline) {
			t.Fatal("game did not finish after quit")
		}
		time.Sleep(10 * time.Millisecond)
	}

	result, survivors, err := h.CollectResult()
	require.NoError(t, err)
	assert.Equal(t, EndReasonQuitRequested, result.EndReason)
	assert.Empty(t, survivors)
}

func TestEndReasonStrings(t *testing.T) {
	assert.Equal(t, "Normal", EndReasonNormal.String())
	assert.Equal(t, "QuitRequested", EndReasonQuitRequested.String())
}
