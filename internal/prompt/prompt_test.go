package prompt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"yeah\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			term := &Terminal{In: strings.NewReader(tt.input), Out: &out}

			got, err := term.Confirm("Really delete secret:app? (y/N) ")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Really delete secret:app? (y/N) ", out.String())
		})
	}
}

func TestTerminalConfirmReadsSuccessiveLines(t *testing.T) {
	term := &Terminal{In: strings.NewReader("y\nn\n"), Out: &bytes.Buffer{}}

	first, err := term.Confirm("1? ")
	require.NoError(t, err)
	second, err := term.Confirm("2? ")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestFixedConfirmers(t *testing.T) {
	ok, err := Never{}.Confirm("?")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Always{}.Confirm("?")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReadValue(t *testing.T) {
	v, err := ReadValue(strings.NewReader("hunter2\nignored\n"), false)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	v, err = ReadValue(strings.NewReader("line one\nline two\n"), true)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", v)

	v, err = ReadValue(strings.NewReader("no-newline"), false)
	require.NoError(t, err)
	assert.Equal(t, "no-newline", v)
}
