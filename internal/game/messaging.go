package game

import "sc2proxy/pkg/sc2"

// GameID identifies a lobby and the game it becomes. Allocated by the
// supervisor, strictly monotonic, never reused.
type GameID uint64

// FromSupervisor is a command sent from the supervisor to a running game.
type FromSupervisor int

const (
	// FromSupervisorQuit asks the game to tear down: every player kills its
	// engine and the game reports a QuitRequested result.
	FromSupervisorQuit FromSupervisor = iota
)

// ToPlayer is a command sent from a game to one of its players.
type ToPlayer int

const (
	// ToPlayerQuit tells the player to kill its engine and stop forwarding.
	ToPlayerQuit ToPlayer = iota
)

// ToGame is a message from a player actor to its game.
type ToGame struct {
	PlayerIndex int
	Content     ToGameContent
}

// ToGameContent is the payload of a player→game message.
type ToGameContent interface {
	isToGameContent()
}

// GameOver carries the authoritative end-of-game results observed by one
// player, sorted by player id. It may arrive from several players and more
// than once from the same engine; the game applies only the first.
type GameOver struct {
	Results []sc2.PlayerResult
}

// LeftGame reports a clean leave: the engine answered the client's
// leave_game request. The player survives and can be recycled.
type LeftGame struct{}

// QuitBeforeLeave reports a client that shut its engine down without leaving
// the game first.
type QuitBeforeLeave struct{}

// EngineConnClosed reports an engine socket that closed unexpectedly.
type EngineConnClosed struct{}

// ClientConnClosed reports a client socket that closed unexpectedly.
type ClientConnClosed struct{}

// TimeLimitExceeded reports that the configured game_loops budget ran out.
type TimeLimitExceeded struct{}

func (GameOver) isToGameContent()          {}
func (LeftGame) isToGameContent()          {}
func (QuitBeforeLeave) isToGameContent()   {}
func (EngineConnClosed) isToGameContent()  {}
func (ClientConnClosed) isToGameContent()  {}
func (TimeLimitExceeded) isToGameContent() {}

// ChannelToGame is a player's two-way connection to its game: messages out,
// commands in. Command receives never block.
type ChannelToGame struct {
	playerIndex int
	tx          chan<- ToGame
	rx          <-chan ToPlayer
}

// Send delivers a message to the game.
func (c *ChannelToGame) Send(content ToGameContent) {
	c.tx <- ToGame{PlayerIndex: c.playerIndex, Content: content}
}

// TryRecv polls for a pending command from the game.
func (c *ChannelToGame) TryRecv() (ToPlayer, bool) {
	select {
	case msg := <-c.rx:
		return msg, true
	default:
		return 0, false
	}
}

// createChannels builds the aggregated game-side receiver, the per-player
// command senders, and the per-player channel bundles.
func createChannels(count int) (<-chan ToGame, []chan<- ToPlayer, []*ChannelToGame) {
	toGame := make(chan ToGame, count*4)
	commands := make([]chan<- ToPlayer, 0, count)
	channels := make([]*ChannelToGame, 0, count)
	for i := 0; i < count; i++ {
		cmd := make(chan ToPlayer, 1)
		commands = append(commands, cmd)
		channels = append(channels, &ChannelToGame{
			playerIndex: i,
			tx:          toGame,
			rx:          cmd,
		})
	}
	return toGame, commands, channels
}
