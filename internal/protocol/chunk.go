package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Fides-Storage/Server-sub000/internal/common"
)

// ErrMalformedChunk is returned for a chunk header larger than
// common.MaxChunkSize.
var ErrMalformedChunk = errors.New("malformed content chunk")

// ChunkReader exposes a content stream as an io.Reader. The stream is a run
// of chunks, each a 4-byte big-endian length followed by that many bytes,
// closed by a zero-length chunk. Read returns io.EOF only after the
// terminator; a connection ending earlier yields io.ErrUnexpectedEOF.
type ChunkReader struct {
	r         io.Reader
	remaining int64
	done      bool
	err       error
}

func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{r: r}
}

func (c *ChunkReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if c.remaining == 0 {
		var hdr [headerSize]byte
		if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			c.err = err
			return 0, err
		}
		size := int64(binary.BigEndian.Uint32(hdr[:]))
		if size == 0 {
			c.done = true
			return 0, io.EOF
		}
		if size > common.MaxChunkSize {
			c.err = fmt.Errorf("%w: %d bytes", ErrMalformedChunk, size)
			return 0, c.err
		}
		c.remaining = size
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if c.remaining == 0 && n > 0 {
				// the terminator has not been read yet; report it on the next call
				return n, nil
			}
			err = io.ErrUnexpectedEOF
		}
		c.err = err
		return n, err
	}
	return n, nil
}

// Done reports whether the terminator has been consumed.
func (c *ChunkReader) Done() bool {
	return c.done
}

// Drain discards the rest of the stream up to and including the terminator,
// leaving the underlying reader positioned at the next frame.
func (c *ChunkReader) Drain() error {
	_, err := io.Copy(io.Discard, c)
	return err
}

// ChunkWriter writes a content stream. Close writes the terminator and must
// be called exactly once per stream.
type ChunkWriter struct {
	w      io.Writer
	closed bool
}

func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{w: w}
}

func (c *ChunkWriter) Write(p []byte) (int, error) {
	if c.closed {
		return 0, errors.New("write to closed content stream")
	}
	written := 0
	for len(p) > 0 {
		n := len(p)
		if n > common.MaxChunkSize {
			n = common.MaxChunkSize
		}
		var hdr [headerSize]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(n))
		if _, err := c.w.Write(hdr[:]); err != nil {
			return written, err
		}
		m, err := c.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

func (c *ChunkWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var hdr [headerSize]byte
	_, err := c.w.Write(hdr[:])
	return err
}
