package interactive

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalConfirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   io.Reader
		want    bool
		wantErr bool
	}{
		{"enter confirms", strings.NewReader("\n"), true, false},
		{"carriage return confirms", strings.NewReader("\r"), true, false},
		{"escape declines", strings.NewReader("\x1b"), false, false},
		{"other keys ignored", strings.NewReader("abc\n"), true, false},
		{"eof", strings.NewReader(""), false, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			term := NewTerminal(tt.input, &out, true)

			got, err := term.Confirm(context.Background(), "solve it> ", time.Second)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTerminalConfirmTimesOut(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	defer w.Close()

	term := NewTerminal(r, io.Discard, true)

	started := time.Now()
	got, err := term.Confirm(context.Background(), "", 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, got)
	assert.Less(t, time.Since(started), time.Second)
}

func TestTerminalConfirmCanceled(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTerminal(r, io.Discard, true).Confirm(ctx, "", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTerminalNotInteractive(t *testing.T) {
	t.Parallel()

	term := NewTerminal(strings.NewReader("\n"), io.Discard, false)
	assert.False(t, term.Interactive())

	ok, err := term.Confirm(context.Background(), "", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = term.Prompt(context.Background(), "url: ")
	assert.ErrorIs(t, err, ErrNotInteractive)
}

func TestTerminalPrompt(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("  https://www.amazon.in/dp/B0C1234567 \n"), &out, true)

	got, err := term.Prompt(context.Background(), "Product URL: ")
	require.NoError(t, err)
	assert.Equal(t, "https://www.amazon.in/dp/B0C1234567", got)
	assert.Equal(t, "Product URL: ", out.String())
}

func TestNonInteractive(t *testing.T) {
	t.Parallel()

	var c Confirmer = NonInteractive{}
	assert.False(t, c.Interactive())
	ok, err := c.Confirm(context.Background(), "", time.Hour)
	assert.NoError(t, err)
	assert.False(t, ok)
}
