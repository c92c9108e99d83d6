// Package remote is the out-of-band control endpoint: newline-delimited JSON
// over TCP, one concurrent connection, dispatched into the supervisor's
// control loop over channels.
package remote

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"sc2proxy/pkg/logger"
)

// Remote is the supervisor's side of the control server: non-blocking request
// receive, blocking response send, plus an update channel for asynchronous
// frames.
type Remote struct {
	requests  chan Request
	responses chan Response
	updates   chan Update

	listener net.Listener
	log      zerolog.Logger
}

// RunServer starts the control server on addr. The server accepts one
// connection at a time; further connects wait until the current one ends.
func RunServer(addr string) (*Remote, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("remote control listen failed: %w", err)
	}
	r := &Remote{
		requests:  make(chan Request),
		responses: make(chan Response),
		updates:   make(chan Update, 16),
		listener:  listener,
		log:       logger.Component("remote"),
	}
	go r.acceptLoop()
	r.log.Info().Str("addr", addr).Msg("remote control listening")
	return r, nil
}

// Addr returns the bound listen address.
func (r *Remote) Addr() string {
	return r.listener.Addr().String()
}

// TryRecv polls for a pending request.
func (r *Remote) TryRecv() (Request, bool) {
	select {
	case req := <-r.requests:
		return req, true
	default:
		return Request{}, false
	}
}

// Send delivers the response to the pending request. The server side is
// always waiting for it.
func (r *Remote) Send(resp Response) {
	r.responses <- resp
}

// SendUpdate queues an asynchronous update frame; it is written after the
// current response, before the next request is read.
func (r *Remote) SendUpdate(u Update) {
	select {
	case r.updates <- u:
	default:
		r.log.Warn().Msg("update channel full, dropping update")
	}
}

func (r *Remote) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			r.log.Warn().Err(err).Msg("remote control accept failed")
			return
		}
		r.log.Info().Str("peer", conn.RemoteAddr().String()).Msg("controller connected")
		quit := r.serveConn(conn)
		conn.Close()
		if quit {
			r.listener.Close()
			return
		}
		r.log.Info().Msg("controller disconnected")
	}
}

// serveConn reads one request line at a time and writes back the response
// line plus any queued updates. Returns true when a Quit response was sent,
// which shuts the whole server down.
func (r *Remote) serveConn(conn net.Conn) bool {
	scanner := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			r.log.Warn().Err(err).Msg("invalid remote request")
			if !writeLine(writer, ErrorResponse("Invalid request: %v", err)) {
				return false
			}
			continue
		}

		r.log.Debug().Str("kind", string(req.Kind)).Msg("remote request")
		r.requests <- req
		resp := <-r.responses

		if !writeLine(writer, resp) {
			return false
		}
		for {
			select {
			case u := <-r.updates:
				if !writeLine(writer, u) {
					return false
				}
				continue
			default:
			}
			break
		}

		if resp.Kind == RespQuit {
			return true
		}
	}
	return false
}

func writeLine(w *bufio.Writer, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(ErrorResponse("Response serialization failed: %v", err))
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return false
	}
	return w.Flush() == nil
}
