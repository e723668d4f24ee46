package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrFrameTooLarge is returned for a frame header announcing more than
	// the reader's limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrMalformedFrame is returned when a frame body is not a JSON object.
	ErrMalformedFrame = errors.New("malformed frame")
)

const headerSize = 4

// WriteFrame encodes v as JSON and writes it as one length-prefixed frame.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame of at most maxSize bytes and decodes it into v.
// A clean end of stream before the header is reported as io.EOF; a stream
// ending inside a frame as io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, maxSize int64, v any) error {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	size := int64(binary.BigEndian.Uint32(hdr[:]))
	if size > maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, size, maxSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
