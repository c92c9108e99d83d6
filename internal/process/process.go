// Package process spawns and supervises one SC2 engine process per player.
package process

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sc2proxy/pkg/config"
	"sc2proxy/pkg/logger"
)

// ErrEngineUnavailable is returned when the engine cannot be spawned or does
// not start accepting connections in time. Spawning is never retried.
var ErrEngineUnavailable = errors.New("engine unavailable")

const listenHost = "127.0.0.1"

// Process is a running engine instance.
type Process struct {
	id      string
	cmd     *exec.Cmd
	port    int
	tempDir string
	log     zerolog.Logger
}

// Spawn launches an engine and blocks until its WebSocket port accepts
// connections. On any failure the partial process is killed.
func Spawn(opts config.Process) (*Process, error) {
	binary := opts.BinaryPath
	if binary == "" {
		binary = os.Getenv("SC2_BINARY")
	}
	if binary == "" {
		return nil, fmt.Errorf("%w: no engine binary configured", ErrEngineUnavailable)
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	id := uuid.New().String()
	tempDir, err := os.MkdirTemp("", "sc2proxy-"+id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	args := []string{
		"-listen", listenHost,
		"-port", strconv.Itoa(port),
		"-dataDir", tempDir,
	}
	if opts.Fullscreen {
		args = append(args, "-displayMode", "1")
	} else {
		args = append(args, "-displayMode", "0")
	}
	if opts.WindowWidth > 0 {
		args = append(args, "-windowwidth", strconv.Itoa(opts.WindowWidth))
	}
	if opts.WindowHeight > 0 {
		args = append(args, "-windowheight", strconv.Itoa(opts.WindowHeight))
	}
	if opts.Verbose {
		args = append(args, "-verbose")
	}

	cmd := exec.Command(binary, args...)
	// SC2 must run from its support directory, otherwise it cannot locate its
	// data files. The binary's directory is the fallback.
	if dir := supportDir(opts, binary); dir != "" {
		cmd.Dir = dir
	}

	p := &Process{
		id:      id,
		cmd:     cmd,
		port:    port,
		tempDir: tempDir,
		log:     logger.Component("process").With().Str("engine", id).Logger(),
	}

	p.log.Debug().Str("binary", binary).Int("port", port).Msg("launching engine")
	if err := cmd.Start(); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("%w: start failed: %v", ErrEngineUnavailable, err)
	}

	timeout := time.Duration(opts.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if err := p.waitListening(timeout); err != nil {
		p.Kill()
		p.Wait()
		return nil, err
	}
	p.log.Debug().Msg("engine ready")
	return p, nil
}

func (p *Process) waitListening(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := net.JoinHostPort(listenHost, strconv.Itoa(p.port))
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("%w: engine did not open %s within %s", ErrEngineUnavailable, addr, timeout)
}

// Connect opens the engine's WebSocket API endpoint.
func (p *Process) Connect() (*websocket.Conn, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(listenHost, strconv.Itoa(p.port)),
		Path:   "/sc2api",
	}
	var lastErr error
	// The port accepting TCP does not guarantee the WebSocket endpoint is up
	// yet; give it a few tries.
	for attempt := 0; attempt < 20; attempt++ {
		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	return nil, fmt.Errorf("%w: websocket dial: %v", ErrEngineUnavailable, lastErr)
}

// Kill terminates the engine immediately. Safe to call more than once, and on
// a nil process.
func (p *Process) Kill() {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Kill()
}

// Wait blocks until the engine exits and releases its scratch directory.
func (p *Process) Wait() {
	if p == nil {
		return
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Wait()
	}
	if p.tempDir != "" {
		os.RemoveAll(p.tempDir)
		p.tempDir = ""
	}
}

func supportDir(opts config.Process, binary string) string {
	base := opts.BaseDir
	if base == "" {
		base = os.Getenv("SC2PATH")
	}
	if base != "" {
		for _, sub := range []string{"Support64", "Support"} {
			dir := filepath.Join(base, sub)
			if st, err := os.Stat(dir); err == nil && st.IsDir() {
				return dir
			}
		}
	}
	return filepath.Dir(binary)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", listenHost+":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
