package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/protocol"
)

// Conn is one client connection.
type Conn struct {
	conn      net.Conn
	r         *bufio.Reader
	w         *bufio.Writer
	maxFrame  int64
	chunkSize int
}

// Dial connects to addr. A nil tlsConfig dials plain TCP.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Conn, error) {
	var (
		c   net.Conn
		err error
	)
	if tlsConfig != nil {
		d := &tls.Dialer{Config: tlsConfig}
		c, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		c, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return NewConn(c), nil
}

// NewConn wraps an established connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn:      c,
		r:         bufio.NewReader(c),
		w:         bufio.NewWriter(c),
		maxFrame:  common.DefaultMaxFrameSize,
		chunkSize: common.DefaultChunkSize,
	}
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Do sends req, followed by content as a content stream when the action
// carries one, and reads the response. When the response is successful and
// carries content it is copied to out. Protocol-level failures are reported
// in the returned Response, not as an error.
func (c *Conn) Do(ctx context.Context, req protocol.Request, content io.Reader, out io.Writer) (protocol.Response, error) {
	var resp protocol.Response
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	action := protocol.ParseAction(req.Action)
	if err := protocol.WriteFrame(c.w, req); err != nil {
		return resp, c.transportErr(ctx, err)
	}
	if action.HasRequestContent() {
		if content == nil {
			content = eofReader{}
		}
		cw := protocol.NewChunkWriter(c.w)
		if _, err := io.CopyBuffer(cw, struct{ io.Reader }{content}, make([]byte, c.chunkSize)); err != nil {
			return resp, c.transportErr(ctx, err)
		}
		if err := cw.Close(); err != nil {
			return resp, c.transportErr(ctx, err)
		}
	}
	if err := c.w.Flush(); err != nil {
		return resp, c.transportErr(ctx, err)
	}

	if err := protocol.ReadFrame(c.r, c.maxFrame, &resp); err != nil {
		return resp, c.transportErr(ctx, err)
	}
	if resp.Successful && action.HasResponseContent() {
		if out == nil {
			out = io.Discard
		}
		cr := protocol.NewChunkReader(c.r)
		if _, err := io.Copy(out, cr); err != nil {
			return resp, c.transportErr(ctx, err)
		}
	}
	return resp, nil
}

func (c *Conn) transportErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *Conn) call(ctx context.Context, req protocol.Request, content io.Reader, out io.Writer) (protocol.Response, error) {
	resp, err := c.Do(ctx, req, content, out)
	if err != nil {
		return resp, err
	}
	if !resp.Successful {
		return resp, &ServerError{Message: resp.Error}
	}
	return resp, nil
}

func (c *Conn) CreateUser(ctx context.Context, username, credentialHash string) error {
	_, err := c.call(ctx, protocol.Request{
		Action:         protocol.ActionCreateUser.String(),
		Username:       username,
		CredentialHash: credentialHash,
	}, nil, nil)
	return err
}

func (c *Conn) Login(ctx context.Context, username, credentialHash string) error {
	_, err := c.call(ctx, protocol.Request{
		Action:         protocol.ActionLogin.String(),
		Username:       username,
		CredentialHash: credentialHash,
	}, nil, nil)
	return err
}

// Disconnect ends the session and closes the connection.
func (c *Conn) Disconnect(ctx context.Context) error {
	_, err := c.call(ctx, protocol.Request{Action: protocol.ActionDisconnect.String()}, nil, nil)
	cerr := c.Close()
	if err != nil {
		return err
	}
	if cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		return cerr
	}
	return nil
}

func (c *Conn) GetKeyFile(ctx context.Context, w io.Writer) error {
	_, err := c.call(ctx, protocol.Request{Action: protocol.ActionGetKeyFile.String()}, nil, w)
	return err
}

func (c *Conn) UpdateKeyFile(ctx context.Context, r io.Reader) error {
	_, err := c.call(ctx, protocol.Request{Action: protocol.ActionUpdateKeyFile.String()}, r, nil)
	return err
}

func (c *Conn) GetFile(ctx context.Context, location string, w io.Writer) error {
	_, err := c.call(ctx, protocol.Request{Action: protocol.ActionGetFile.String(), Location: location}, nil, w)
	return err
}

func (c *Conn) UpdateFile(ctx context.Context, location string, r io.Reader) error {
	_, err := c.call(ctx, protocol.Request{Action: protocol.ActionUpdateFile.String(), Location: location}, r, nil)
	return err
}

// UploadFile stores r as a new file and returns its location.
func (c *Conn) UploadFile(ctx context.Context, r io.Reader) (string, error) {
	resp, err := c.call(ctx, protocol.Request{Action: protocol.ActionUploadFile.String()}, r, nil)
	if err != nil {
		return "", err
	}
	return resp.Location, nil
}

func (c *Conn) RemoveFile(ctx context.Context, location string) error {
	_, err := c.call(ctx, protocol.Request{Action: protocol.ActionRemoveFile.String(), Location: location}, nil, nil)
	return err
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
