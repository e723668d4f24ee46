// Package listener accepts client connections and runs one session per
// connection until the server shuts down.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/logging"
	"github.com/Fides-Storage/Server-sub000/internal/server/session"
)

type Listener struct {
	address   string
	tlsConfig *tls.Config
	users     session.UserService
	files     session.FileService
	logger    logging.Logger
	opts      session.Options
	onServing func(bool)
}

// New returns a listener for address. A nil tlsConfig serves plain TCP.
func New(address string, tlsConfig *tls.Config, users session.UserService, files session.FileService, logger logging.Logger, opts session.Options) *Listener {
	return &Listener{
		address:   address,
		tlsConfig: tlsConfig,
		users:     users,
		files:     files,
		logger:    logger.With("module", "listener"),
		opts:      opts,
		onServing: func(bool) {},
	}
}

// OnServing registers f to be told when the listener starts and stops
// accepting connections.
func (l *Listener) OnServing(f func(bool)) {
	if f != nil {
		l.onServing = f
	}
}

// LoadTLSConfig reads a certificate and key pair from disk.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (l *Listener) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", l.address)
	if err != nil {
		return err
	}
	return l.Serve(ctx, lis)
}

// Serve accepts on lis until ctx is cancelled, then waits for every session
// to end. Cancelling ctx closes active connections, which releases their
// account locks.
func (l *Listener) Serve(ctx context.Context, lis net.Listener) error {
	if l.tlsConfig != nil {
		lis = tls.NewListener(lis, l.tlsConfig)
	}
	stop := context.AfterFunc(ctx, func() { _ = lis.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	l.logger.Info(ctx, "Accepting connections", "address", lis.Addr().String(), "tls", l.tlsConfig != nil)
	l.onServing(true)
	defer l.onServing(false)

	var backoff time.Duration
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info(ctx, "Listener stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				l.logger.Warn(ctx, "accept failed, retrying", "error", err, "backoff", backoff)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			_ = lis.Close()
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handle(ctx, conn)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	s := session.New(conn, l.users, l.files, l.logger, l.opts)
	if err := s.Run(ctx); err != nil {
		l.logger.Debug(ctx, "session ended with error", "session_id", s.ID(), "error", err)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
