package drivers

import (
	"bytes"
	"testing"

	"github.com/orizon-lang/mordax/internal/runtime/dt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestUARTDecodesCodePage(t *testing.T) {
	tests := []struct {
		name     string
		codepage string
		in       []byte
		want     string
	}{
		{"latin1", "", []byte{'c', 'a', 'f', 0xe9}, "café"},
		{"latin9 euro", "iso-8859-15", []byte{0xa4}, "€"},
		{"windows quotes", "Windows-1252", []byte{0x93, 'x', 0x94}, "“x”"},
		{"cp437 box", "cp437", []byte{0xc9, 0xcd, 0xbb}, "╔═╗"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := dt.New()
			n := tree.Root().AddChild("serial")
			n.SetStrings("compatible", "mordax,sim-uart")
			if tt.codepage != "" {
				n.SetStrings("mordax,codepage", tt.codepage)
			}
			var out bytes.Buffer
			d, err := Default().DebugOutput(Env{Tree: tree, Node: n, Output: &out})
			require.NoError(t, err)
			for _, c := range tt.in {
				d.PutChar(c)
			}
			assert.Equal(t, tt.want, out.String())
			assert.Equal(t, uint64(len(tt.in)), d.(*UART).Written())
		})
	}
}

func TestUARTDefaultsToLatin1(t *testing.T) {
	var out bytes.Buffer
	u := NewUART(&out, nil)
	u.PutChar(0xfc)
	assert.Equal(t, "ü", out.String())

	out.Reset()
	u = NewUART(&out, charmap.CodePage437)
	u.PutChar(0x81)
	assert.Equal(t, "ü", out.String())
}
