package terminal

import (
	"os"

	"golang.org/x/term"
)

// RawModeGuard holds the terminal state to return to after raw input.
type RawModeGuard struct {
	fd       int
	oldState *term.State
}

// EnableRawMode puts the terminal behind f into raw mode.
func EnableRawMode(f *os.File) (*RawModeGuard, error) {
	fd := int(f.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawModeGuard{fd: fd, oldState: oldState}, nil
}

func (g *RawModeGuard) Restore() {
	term.Restore(g.fd, g.oldState)
}
