package console

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/orizon-lang/mordax/internal/runtime/drivers"
	"github.com/orizon-lang/mordax/internal/runtime/drivers/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestEarlyOutputIsReplayed(t *testing.T) {
	c := New()
	c.Printf("The Mordax Microkernel v%s\n", "0.1")
	assert.Equal(t, 28, c.Buffered())

	var out bytes.Buffer
	c.SetOutput(drivers.NewUART(&out, nil))
	assert.Equal(t, "The Mordax Microkernel v0.1\n", out.String())
	assert.Zero(t, c.Buffered())

	c.Printf("Memory: %d Mb\n", 16)
	assert.Equal(t, "The Mordax Microkernel v0.1\nMemory: 16 Mb\n", out.String())
	assert.Equal(t, uint64(out.Len()), c.Written())
}

func TestEarlyBufferLimit(t *testing.T) {
	c := NewWithLimit(4)
	n, err := c.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 4, c.Buffered())
	assert.Equal(t, 2, c.Dropped())

	c.Write([]byte("g"))
	assert.Equal(t, 3, c.Dropped())
}

func TestWritesGoThroughPutChar(t *testing.T) {
	ctrl := gomock.NewController(t)
	out := mocks.NewMockDebugOutput(ctrl)
	gomock.InOrder(
		out.EXPECT().PutChar(byte('h')),
		out.EXPECT().PutChar(byte('i')),
	)

	c := New()
	c.SetOutput(out)
	assert.Same(t, out, c.Output())
	c.Write([]byte("hi"))

	// Detached again, output goes back to the early buffer.
	c.SetOutput(nil)
	c.Write([]byte("x"))
	assert.Equal(t, 1, c.Buffered())
}

func TestLogger(t *testing.T) {
	var out bytes.Buffer
	c := New()
	c.SetOutput(drivers.NewUART(&out, nil))

	log := c.Logger(slog.LevelInfo)
	log.Debug("hidden")
	log.Info("adding zone", "base", "0x40000000")
	line := out.String()
	assert.True(t, strings.HasPrefix(line, "level=INFO msg=\"adding zone\""), line)
	assert.NotContains(t, line, "time=")
	assert.NotContains(t, line, "hidden")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	l, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
