// Package prompt reads interactive answers from the user.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/mindgarden-dev/garden/internal/output"
)

var errCanceled = errors.New("prompt canceled")

// IsCanceled reports whether err came from the user closing input.
func IsCanceled(err error) bool {
	return errors.Is(err, errCanceled)
}

// Prompter asks questions on the writer's stdout and reads answers from in.
type Prompter struct {
	out    *output.Writer
	in     io.Reader
	reader *bufio.Reader
}

// New creates a Prompter reading from stdin.
func New(out *output.Writer) *Prompter {
	return NewWithInput(out, os.Stdin)
}

// NewWithInput creates a Prompter reading from in.
func NewWithInput(out *output.Writer, in io.Reader) *Prompter {
	return &Prompter{out: out, in: in, reader: bufio.NewReader(in)}
}

// CanPrompt reports whether interactive prompts are available.
func (p *Prompter) CanPrompt() bool {
	return p.out.Terminal().InteractiveEnabled() && !p.out.NoInput && !p.out.JSON
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if errors.Is(err, io.EOF) && line == "" {
		return "", errCanceled
	}

	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// Text prompts for a line of visible input.
func (p *Prompter) Text(label string) (string, error) {
	p.out.Print("%s: ", label)

	return p.readLine()
}

// Password prompts for hidden input. Echo is only suppressed when the input
// is a terminal.
func (p *Prompter) Password(label string) (string, error) {
	p.out.Print("%s: ", label)

	f, ok := p.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.readLine()
	}

	secret, err := term.ReadPassword(int(f.Fd()))
	p.out.Println()

	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	return string(secret), nil
}

// Confirm prompts for a yes/no answer.
func (p *Prompter) Confirm(message string, defaultValue bool) (bool, error) {
	hint := "y/N"
	if defaultValue {
		hint = "Y/n"
	}

	p.out.Print("%s [%s]: ", message, hint)

	input, err := p.readLine()
	if err != nil {
		return defaultValue, err
	}

	switch strings.ToLower(input) {
	case "":
		return defaultValue, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Select prompts the user to pick one of options and returns its index.
func (p *Prompter) Select(message string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, errors.New("nothing to select")
	}

	p.out.Println(message)

	for i, opt := range options {
		p.out.Print("  [%d] %s\n", i+1, opt)
	}

	p.out.Println()

	for {
		p.out.Print("Select [1-%d]: ", len(options))

		input, err := p.readLine()
		if err != nil {
			return -1, err
		}

		if input == "" {
			continue
		}

		num, err := strconv.Atoi(input)
		if err != nil || num < 1 || num > len(options) {
			p.out.Warning("Invalid selection. Please enter a number between 1 and %d", len(options))
			continue
		}

		return num - 1, nil
	}
}
