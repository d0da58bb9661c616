package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRAMWordAccess(t *testing.T) {
	ram, err := NewRAM(0x80000000, 64*1024)
	require.NoError(t, err)
	defer ram.Close()

	ram.SetWord(0x80000010, 0xdeadbeef)
	assert.Equal(t, uint32(0xdeadbeef), ram.Word(0x80000010))

	b, err := ram.Slice(0x80000010, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, b, "words are little-endian")
}

func TestRAMBounds(t *testing.T) {
	ram, err := NewRAM(0x1000, 0x1000)
	require.NoError(t, err)
	defer ram.Close()

	assert.True(t, ram.Contains(0x1000, 0x1000))
	assert.False(t, ram.Contains(0x1000, 0x1001))
	assert.False(t, ram.Contains(0xfff, 1))

	_, err = ram.Slice(0x1ffe, 4)
	assert.Error(t, err)
	assert.Error(t, ram.Load(0x1ff0, make([]byte, 32)))
	assert.Panics(t, func() { ram.Word(0x2000) })
}

func TestRAMLoadAndZero(t *testing.T) {
	ram, err := NewRAM(0, 0x2000)
	require.NoError(t, err)
	defer ram.Close()

	require.NoError(t, ram.Load(0x100, []byte("mordax")))
	b, err := ram.Slice(0x100, 6)
	require.NoError(t, err)
	assert.Equal(t, "mordax", string(b))

	require.NoError(t, ram.Zero(0x100, 6))
	assert.Equal(t, make([]byte, 6), b)
}

func TestNewRAMRejectsOverflow(t *testing.T) {
	_, err := NewRAM(0xffff0000, 0x20000)
	assert.Error(t, err)
	_, err = NewRAM(0, 0)
	assert.Error(t, err)
}
