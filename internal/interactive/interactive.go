// Package interactive asks a human for confirmation when one is present.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const keyEscape = 27

// ErrNotInteractive is returned by Prompt when nobody can answer.
var ErrNotInteractive = errors.New("no interactive terminal")

// Confirmer is the capability the checkout flow uses to hand control to a human.
type Confirmer interface {
	// Interactive reports whether a human can answer at all.
	Interactive() bool
	// Confirm shows message and blocks until Enter (true), ESC (false) or timeout (false).
	Confirm(ctx context.Context, message string, timeout time.Duration) (bool, error)
	// Prompt reads one line of input.
	Prompt(ctx context.Context, label string) (string, error)
}

// Terminal confirms over a byte stream, normally the process's stdin.
type Terminal struct {
	in          io.Reader
	out         io.Writer
	interactive bool
	fd          int

	once  sync.Once
	bytes chan byte
}

// Stdio returns a Terminal on stdin/stdout. It is interactive only when stdin is a tty.
func Stdio() *Terminal {
	fd := int(os.Stdin.Fd())
	return &Terminal{
		in:          os.Stdin,
		out:         os.Stdout,
		interactive: term.IsTerminal(fd),
		fd:          fd,
	}
}

// NewTerminal wraps arbitrary streams; raw mode is never used.
func NewTerminal(in io.Reader, out io.Writer, interactive bool) *Terminal {
	return &Terminal{in: in, out: out, interactive: interactive, fd: -1}
}

func (t *Terminal) Interactive() bool { return t.interactive }

// pump feeds input bytes to a channel so waits can be bounded. The goroutine ends at EOF.
// It reports whether the reader was already running.
func (t *Terminal) pump() bool {
	running := true
	t.once.Do(func() {
		running = false
		t.bytes = make(chan byte, 64)
		go func() {
			defer close(t.bytes)
			buf := make([]byte, 1)
			for {
				n, err := t.in.Read(buf)
				if n == 1 {
					t.bytes <- buf[0]
				}
				if err != nil {
					return
				}
			}
		}()
	})
	return running
}

// drain discards keys pressed before the prompt appeared.
func (t *Terminal) drain() {
	for {
		select {
		case _, ok := <-t.bytes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (t *Terminal) Confirm(ctx context.Context, message string, timeout time.Duration) (bool, error) {
	if !t.interactive {
		return false, nil
	}
	if t.pump() {
		t.drain()
	}

	if t.fd >= 0 {
		if state, err := term.MakeRaw(t.fd); err == nil {
			defer term.Restore(t.fd, state)
		}
	}

	fmt.Fprint(t.out, message)
	defer fmt.Fprintln(t.out)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-expired:
			return false, nil
		case b, ok := <-t.bytes:
			if !ok {
				return false, io.EOF
			}
			switch b {
			case '\n', '\r':
				return true, nil
			case keyEscape:
				return false, nil
			}
		}
	}
}

func (t *Terminal) Prompt(ctx context.Context, label string) (string, error) {
	if !t.interactive {
		return "", ErrNotInteractive
	}
	t.pump()
	fmt.Fprint(t.out, label)

	var line strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case b, ok := <-t.bytes:
			if !ok {
				if line.Len() > 0 {
					return strings.TrimSpace(line.String()), nil
				}
				return "", io.EOF
			}
			if b == '\n' {
				return strings.TrimSpace(line.String()), nil
			}
			line.WriteByte(b)
		}
	}
}

// NonInteractive never blocks and never confirms.
type NonInteractive struct{}

func (NonInteractive) Interactive() bool { return false }

func (NonInteractive) Confirm(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (NonInteractive) Prompt(context.Context, string) (string, error) {
	return "", ErrNotInteractive
}

var (
	_ Confirmer = (*Terminal)(nil)
	_ Confirmer = NonInteractive{}
)
