package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyThrottled(t *testing.T) {
	data := bytes.Repeat([]byte("pagedb"), chunkSize/3)
	dst, err := os.Create(filepath.Join(t.TempDir(), "copy"))
	require.NoError(t, err)
	defer dst.Close()

	sum, err := CopyThrottled(context.Background(), bytes.NewReader(data), dst, 0)
	require.NoError(t, err)
	want := sha256.Sum256(data)
	assert.Equal(t, want[:], sum)
	require.NoError(t, VerifyCopy(dst.Name(), sum))

	copied, err := os.ReadFile(dst.Name())
	require.NoError(t, err)
	assert.Equal(t, data, copied)
}

func TestCopyThrottledHonoursCancel(t *testing.T) {
	dst, err := os.Create(filepath.Join(t.TempDir(), "copy"))
	require.NoError(t, err)
	defer dst.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = CopyThrottled(ctx, bytes.NewReader([]byte("x")), dst, 1<<20)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyCopyMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	err := VerifyCopy(path, make([]byte, sha256.Size))
	assert.ErrorContains(t, err, "checksum mismatch")

	_, err = FileChecksum(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
