//go:build unix

package heap

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/skadidb/pkg/status"
)

func TestHeap_AllocFree(t *testing.T) {
	h, err := New(Config{Size: 4096})
	require.NoError(t, err)
	defer h.Destroy()

	a, err := h.Alloc(100)
	require.NoError(t, err)
	assert.Len(t, a, 100)
	assert.Equal(t, 128, h.InUse())

	copy(a, bytes.Repeat([]byte{0xaa}, 100))
	h.Free(a)
	assert.Zero(t, h.InUse())

	// A freed block of the same size class is reused and comes back zeroed.
	b, err := h.Alloc(120)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 120), b)
	h.Free(b)
}

func TestHeap_Exhaustion(t *testing.T) {
	h, err := New(Config{Size: 256})
	require.NoError(t, err)
	defer h.Destroy()

	_, err = h.Alloc(200)
	require.NoError(t, err)
	_, err = h.Alloc(100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNoMemory))
}

func TestHeap_DestroyReportsLeaks(t *testing.T) {
	var logs bytes.Buffer
	h, err := New(Config{
		Size:        4096,
		Diagnostics: Diagnostics{TraceAllocs: true, TraceFrees: true},
		Logger:      slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)

	_, err = h.Alloc(10)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "heap alloc")

	err = h.Destroy()
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidState))
	assert.False(t, h.IsOpen())
	assert.NoError(t, h.Destroy())

	_, err = h.Alloc(10)
	assert.True(t, errors.Is(err, status.ErrInvalidState))
}

func TestHeap_InvalidSize(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))
}
