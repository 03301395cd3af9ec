// Package terminal reads REPL input lines, with line editing and history
// when attached to a terminal.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// LineReader prints a prompt and returns the next input line without its
// terminator. io.EOF means the input is exhausted.
type LineReader interface {
	ReadLine(prompt string) (string, error)
}

// Open returns an Editor when both in and out are terminals, and a Scanner
// otherwise (pipes, scripts).
func Open(in, out *os.File) LineReader {
	if isatty.IsTerminal(in.Fd()) && isatty.IsTerminal(out.Fd()) {
		return NewEditor(in, out)
	}
	return NewScanner(in, out)
}

// Editor is an interactive line editor with history. The terminal is raw
// only while a line is being read, so command output between prompts is
// written in cooked mode.
type Editor struct {
	in *os.File
	t  *term.Terminal
}

func NewEditor(in, out *os.File) *Editor {
	rw := struct {
		io.Reader
		io.Writer
	}{in, out}
	return &Editor{in: in, t: term.NewTerminal(rw, "")}
}

func (e *Editor) ReadLine(prompt string) (string, error) {
	guard, err := EnableRawMode(e.in)
	if err != nil {
		return "", fmt.Errorf("entering raw mode: %w", err)
	}
	defer guard.Restore()

	if w, h, err := term.GetSize(int(e.in.Fd())); err == nil {
		e.t.SetSize(w, h)
	}
	e.t.SetPrompt(prompt)
	return e.t.ReadLine()
}

// Scanner reads lines from a non-interactive source.
type Scanner struct {
	sc  *bufio.Scanner
	out io.Writer
}

func NewScanner(in io.Reader, out io.Writer) *Scanner {
	return &Scanner{sc: bufio.NewScanner(in), out: out}
}

func (s *Scanner) ReadLine(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}
