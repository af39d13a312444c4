package prompt

import (
	"bufio"
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"", true, true},
		{"maybe\n", true, false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := &Prompter{out: &out, reader: bufio.NewReader(strings.NewReader(tt.input))}

		got, err := p.Confirm("Remove user alice?", tt.defaultYes)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q default %v", tt.input, tt.defaultYes)
		assert.Contains(t, out.String(), "Remove user alice?")
	}
}

func TestPassword_RequiresTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	p := &Prompter{in: r, out: &bytes.Buffer{}}
	_, err = p.Password("Password")
	assert.ErrorIs(t, err, ErrNotTerminal)
}
