package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk
const chunkSize = 1 << 20 // 1 MiB

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// SyncWriter is a destination that can be flushed to stable storage.
type SyncWriter interface {
	io.Writer
	Sync() error
}

// CopyThrottled copies src from offset 0 to EOF into dst, at most
// rateBytesPerSec bytes per second when positive, syncs dst and returns the
// sha256 of the bytes copied.
func CopyThrottled(ctx context.Context, src io.ReaderAt, dst SyncWriter, rateBytesPerSec int64) ([]byte, error) {
	var limiter *rate.Limiter
	if rateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateBytesPerSec), chunkSize) // burst = chunkSize
	}

	sum := sha256.New()
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	var readOff int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, rerr := src.ReadAt(buf[:chunkSize], readOff)
		if n > 0 {
			// throttle: wait until enough tokens available for n bytes
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return nil, fmt.Errorf("rate limiter error: %w", err)
				}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("write error: %w", err)
			}
			sum.Write(buf[:n])
			readOff += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read error: %w", rerr)
		}
	}

	if err := dst.Sync(); err != nil {
		return nil, fmt.Errorf("sync error: %w", err)
	}
	return sum.Sum(nil), nil
}

// FileChecksum returns the sha256 of the file at path.
func FileChecksum(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	return sum.Sum(nil), nil
}

// VerifyCopy checks that the file at path hashes to want.
func VerifyCopy(path string, want []byte) error {
	got, err := FileChecksum(path)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("checksum mismatch for %s: got %x, want %x", path, got, want)
	}
	return nil
}
