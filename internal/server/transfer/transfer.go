// Package transfer implements the quota-enforcing streaming copy used by
// uploads and updates. The size of the incoming content is never known up
// front, so the budget is checked incrementally, chunk by chunk.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Fides-Storage/Server-sub000/internal/common"
)

// Guard carries an account's quota counters into a transfer.
//
// Replaced is the size of the content being overwritten (zero for a new
// file); it is credited back to the budget because the old bytes go away
// when the new ones are published.
type Guard struct {
	Limit    int64
	Used     int64
	Replaced int64
}

// Additive builds a guard for content that adds to the account total.
func Additive(limit, used int64) Guard {
	return Guard{Limit: limit, Used: used}
}

// Replace builds a guard for content replacing oldSize existing bytes.
func Replace(limit, used, oldSize int64) Guard {
	return Guard{Limit: limit, Used: used, Replaced: oldSize}
}

// Remaining is how many bytes this transfer may write.
func (g Guard) Remaining() int64 {
	r := g.Limit - g.Used + g.Replaced
	if r < 0 {
		return 0
	}
	return r
}

// UsedAfter returns the account's used bytes once written bytes have been
// published in place of the replaced content.
func (g Guard) UsedAfter(written int64) int64 {
	used := g.Used - g.Replaced + written
	if used < 0 {
		return 0
	}
	return used
}

// Copy streams src into dst in chunks of at most chunkSize bytes. A chunk
// that would take the total past g.Remaining() is not written; Copy returns
// common.ErrorQuotaExceeded and the caller discards dst. Cancelling ctx
// aborts between chunks.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, g Guard, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = common.DefaultChunkSize
	}
	remaining := g.Remaining()
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if written+int64(n) > remaining {
				return written, fmt.Errorf("%w: limit %d bytes", common.ErrorQuotaExceeded, remaining)
			}
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, fmt.Errorf("write: %w", werr)
			}
			if m != n {
				return written, fmt.Errorf("write: %w", io.ErrShortWrite)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, fmt.Errorf("read: %w", rerr)
		}
	}
}
