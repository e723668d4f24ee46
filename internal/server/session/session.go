// Package session runs the per-connection protocol state machine: an
// unauthenticated phase until login binds an account, then the file actions
// until the client disconnects or the transport fails. The account lock taken
// at login is released exactly once however the session ends.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/logging"
	"github.com/Fides-Storage/Server-sub000/internal/netx"
	"github.com/Fides-Storage/Server-sub000/internal/protocol"
	"github.com/Fides-Storage/Server-sub000/internal/server/models"
	"github.com/Fides-Storage/Server-sub000/internal/server/services"
	"github.com/google/uuid"
)

// State is the phase of a session. Transitions only go forward.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type UserService interface {
	Register(ctx context.Context, username, credentialHash string) error
	Login(ctx context.Context, username, credentialHash string) (*services.Binding, error)
	Logout(ctx context.Context, b *services.Binding) error
}

type FileService interface {
	Upload(ctx context.Context, a *models.Account, src io.Reader) (string, error)
	Update(ctx context.Context, a *models.Account, id string, src io.Reader) error
	UpdateKeyFile(ctx context.Context, a *models.Account, src io.Reader) error
	Remove(ctx context.Context, a *models.Account, id string) error
	Locate(ctx context.Context, a *models.Account, id string) error
	Touch(ctx context.Context, a *models.Account) error
	Read(ctx context.Context, a *models.Account, id string, w io.Writer) (int64, error)
	ReadKeyFile(ctx context.Context, a *models.Account, w io.Writer) (int64, error)
}

type Options struct {
	MaxFrameSize int64
	// IdleTimeout closes a session whose peer sends or accepts nothing for
	// this long. Zero disables it.
	IdleTimeout time.Duration
}

type Session struct {
	id      string
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	users   UserService
	files   FileService
	logger  logging.Logger
	opts    Options
	state   State
	binding *services.Binding
}

func New(conn net.Conn, users UserService, files FileService, logger logging.Logger, opts Options) *Session {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = common.DefaultMaxFrameSize
	}
	id := uuid.NewString()
	ic := &idleConn{Conn: conn, timeout: opts.IdleTimeout}
	return &Session{
		id:     id,
		conn:   conn,
		r:      bufio.NewReader(ic),
		w:      bufio.NewWriter(ic),
		users:  users,
		files:  files,
		logger: logger.With("module", "session", "session_id", id, "remote", remoteAddr(conn)),
		opts:   opts,
		state:  StateUnauthenticated,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

// Run serves requests until the session closes. A clean disconnect, an idle
// timeout or ctx cancellation return nil; other transport or protocol faults
// are returned after the connection is closed.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	defer s.close(context.WithoutCancel(ctx))

	s.logger.Debug(ctx, "session opened")
	for s.state != StateClosed {
		err := s.serveOne(ctx)
		if err == nil {
			continue
		}
		switch {
		case ctx.Err() != nil:
			s.logger.Debug(ctx, "session cancelled")
			return nil
		case netx.IsTimeout(err):
			s.logger.Info(ctx, "session idle timeout")
			return nil
		case netx.IsDisconnect(err):
			s.logger.Debug(ctx, "peer disconnected", "error", err)
			return nil
		}
		s.logger.Warn(ctx, "session aborted", "error", err)
		return err
	}
	return nil
}

// close releases the account lock and the connection. It runs once, from Run.
func (s *Session) close(ctx context.Context) {
	s.state = StateClosed
	s.release(ctx)
	_ = s.conn.Close()
	s.logger.Debug(ctx, "session closed")
}

func (s *Session) release(ctx context.Context) {
	if s.binding == nil {
		return
	}
	if err := s.users.Logout(ctx, s.binding); err != nil {
		s.logger.Error(ctx, "failed to release account lock", "error", err)
	}
	s.binding = nil
}

// serveOne reads one request, dispatches it and writes the response. A
// returned error ends the session.
func (s *Session) serveOne(ctx context.Context) error {
	var req protocol.Request
	if err := protocol.ReadFrame(s.r, s.opts.MaxFrameSize, &req); err != nil {
		// An undecodable or oversized frame leaves the stream position
		// unknown, so any content that may follow cannot be skipped. The
		// reply is best effort; the session ends either way.
		if errors.Is(err, protocol.ErrMalformedFrame) || errors.Is(err, protocol.ErrFrameTooLarge) {
			_ = s.respond(ctx, fail(protocol.MsgMalformedRequest))
		}
		return err
	}

	action := protocol.ParseAction(req.Action)
	var content *protocol.ChunkReader
	if action.HasRequestContent() {
		content = protocol.NewChunkReader(s.r)
	}

	h := handlerFor(s.state, action)
	rep := h(s, ctx, &req, content)

	if content != nil && !content.Done() {
		if err := content.Drain(); err != nil {
			return fmt.Errorf("content stream: %w", err)
		}
	}
	s.logger.Debug(ctx, "request served", "action", action.String(), "successful", rep.resp.Successful)
	return s.respond(ctx, rep)
}

func (s *Session) respond(ctx context.Context, rep reply) error {
	if err := protocol.WriteFrame(s.w, rep.resp); err != nil {
		return err
	}
	if rep.resp.Successful && rep.stream != nil {
		cw := protocol.NewChunkWriter(s.w)
		if err := rep.stream(ctx, cw); err != nil {
			return fmt.Errorf("content stream: %w", err)
		}
		if err := cw.Close(); err != nil {
			return err
		}
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	if rep.close {
		s.state = StateClosed
	}
	return nil
}

func remoteAddr(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// idleConn pushes the connection deadline forward before every read and
// write.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(p)
}
