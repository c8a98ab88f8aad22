// Package output writes garden's command output.
//
// A Writer carries the output mode chosen on the command line (JSON, quiet,
// no-color, no-input) and is threaded through commands via context so that
// tests can capture everything a command prints.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/mindgarden-dev/garden/internal/terminal"
)

type contextKey struct{}

// Writer handles CLI output with multiple modes.
type Writer struct {
	Out     io.Writer
	Err     io.Writer
	JSON    bool
	Quiet   bool
	Verbose bool
	NoInput bool

	terminal *terminal.Info
	palette  palette
}

type palette struct {
	success *color.Color
	failure *color.Color
	warning *color.Color
	info    *color.Color
	muted   *color.Color
	alert   *color.Color
	heading *color.Color
}

func newPalette() palette {
	return palette{
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed),
		warning: color.New(color.FgYellow),
		info:    color.New(color.FgCyan),
		muted:   color.New(color.FgHiBlack),
		alert:   color.New(color.FgWhite, color.BgRed, color.Bold),
		heading: color.New(color.Bold),
	}
}

// Default returns a Writer for the process's stdout and stderr.
func Default() *Writer {
	return NewWriter(os.Stdout, os.Stderr, terminal.Detect())
}

// NewWriter creates a Writer with custom writers and terminal info.
func NewWriter(out, errOut io.Writer, term *terminal.Info) *Writer {
	if term == nil {
		term = &terminal.Info{Width: terminal.DefaultWidth, Height: terminal.DefaultHeight}
	}

	w := &Writer{
		Out:      out,
		Err:      errOut,
		terminal: term,
		palette:  newPalette(),
	}

	if !term.ColorEnabled() {
		w.disableColor()
	}

	return w
}

func (w *Writer) disableColor() {
	for _, c := range []*color.Color{
		w.palette.success, w.palette.failure, w.palette.warning,
		w.palette.info, w.palette.muted, w.palette.alert, w.palette.heading,
	} {
		c.DisableColor()
	}
}

// WithContext stores the Writer in the context.
func (w *Writer) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, w)
}

// FromContext retrieves the Writer from context, or returns Default().
func FromContext(ctx context.Context) *Writer {
	if w, ok := ctx.Value(contextKey{}).(*Writer); ok {
		return w
	}

	return Default()
}

// Terminal returns the terminal info.
func (w *Writer) Terminal() *terminal.Info {
	return w.terminal
}

// SetNoColor disables colored output.
func (w *Writer) SetNoColor(disabled bool) {
	w.terminal.ForceFlag = disabled
	if disabled {
		w.disableColor()
	}
}

// Print writes to stdout unless quiet.
func (w *Writer) Print(format string, args ...any) {
	if !w.Quiet {
		fmt.Fprintf(w.Out, format, args...)
	}
}

// Println writes a line to stdout unless quiet.
func (w *Writer) Println(args ...any) {
	if !w.Quiet {
		fmt.Fprintln(w.Out, args...)
	}
}

// PrintJSON outputs structured data as indented JSON. Quiet mode does not
// suppress it.
func (w *Writer) PrintJSON(v any) error {
	enc := json.NewEncoder(w.Out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// Error writes to stderr.
func (w *Writer) Error(format string, args ...any) {
	fmt.Fprintf(w.Err, format, args...)
}

// Errorln writes a line to stderr.
func (w *Writer) Errorln(args ...any) {
	fmt.Fprintln(w.Err, args...)
}

// Write implements io.Writer, writing to Out.
func (w *Writer) Write(p []byte) (int, error) {
	if w.Quiet {
		return len(p), nil
	}

	return w.Out.Write(p)
}

// Debug writes to stderr only in verbose mode.
func (w *Writer) Debug(format string, args ...any) {
	if w.Verbose {
		w.palette.muted.Fprintf(w.Err, "[debug] "+format+"\n", args...)
	}
}

func (w *Writer) status(dst io.Writer, tone *color.Color, symbol, format string, args ...any) {
	tone.Fprint(dst, symbol)
	fmt.Fprintln(dst, " "+fmt.Sprintf(format, args...))
}

// Success writes a success message with a checkmark.
func (w *Writer) Success(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, w.palette.success, CheckMark, format, args...)
	}
}

// Failure writes an error message with an X mark to stderr. It is never
// silenced.
func (w *Writer) Failure(format string, args ...any) {
	w.status(w.Err, w.palette.failure, XMark, format, args...)
}

// Warning writes a warning message.
func (w *Writer) Warning(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, w.palette.warning, WarningMark, format, args...)
	}
}

// Info writes an info message.
func (w *Writer) Info(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, w.palette.info, InfoMark, format, args...)
	}
}

// Muted writes gray text.
func (w *Writer) Muted(format string, args ...any) {
	if !w.Quiet {
		w.palette.muted.Fprintln(w.Out, fmt.Sprintf(format, args...))
	}
}

// Dim returns s in the muted color, for inline use.
func (w *Writer) Dim(s string) string {
	return w.palette.muted.Sprint(s)
}

// Heading writes a bold section title followed by a blank line.
func (w *Writer) Heading(format string, args ...any) {
	if w.Quiet {
		return
	}

	w.palette.heading.Fprintln(w.Out, fmt.Sprintf(format, args...))
	fmt.Fprintln(w.Out)
}

// Alert writes a high-visibility banner. Crisis banners use it, so quiet mode
// does not suppress it.
func (w *Writer) Alert(format string, args ...any) {
	msg := " " + fmt.Sprintf(format, args...) + " "
	w.palette.alert.Fprint(w.Out, msg)
	fmt.Fprintln(w.Out)
}

// Status symbols
const (
	CheckMark   = "✓" // ✓
	XMark       = "✗" // ✗
	WarningMark = "⚠" // ⚠
	InfoMark    = "ℹ" // ℹ
)

// Table writes rows as left-aligned columns under an optional header. Widths are measured in terminal
// cells so that wide runes line up.
func (w *Writer) Table(header []string, rows [][]string) {
	if w.Quiet {
		return
	}

	cols := len(header)
	for _, row := range rows {
		cols = max(cols, len(row))
	}

	widths := make([]int, cols)
	measure := func(cells []string) {
		for i, cell := range cells {
			if i < len(widths) {
				widths[i] = max(widths[i], runewidth.StringWidth(cell))
			}
		}
	}

	measure(header)

	for _, row := range rows {
		measure(row)
	}

	line := func(cells []string) string {
		var b strings.Builder

		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}

			if i == len(widths)-1 {
				b.WriteString(cell)
				break
			}

			b.WriteString(runewidth.FillRight(cell, widths[i]))
			b.WriteString("  ")
		}

		return strings.TrimRight(b.String(), " ")
	}

	if len(header) > 0 {
		w.palette.heading.Fprintln(w.Out, line(header))
	}

	for _, row := range rows {
		fmt.Fprintln(w.Out, line(row))
	}
}

// Truncate shortens s to at most width cells, marking the cut with an ellipsis.
func Truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}

	return runewidth.Truncate(s, width, "…")
}

// Spinner creates a spinner for long operations. The spinner degrades to
// plain text when stdout is not a terminal and is silent in quiet or JSON mode.
func (w *Writer) Spinner(message string) *Spinner {
	if w.Quiet || w.JSON {
		return &Spinner{disabled: true, silent: true, message: message, writer: w}
	}

	if !w.terminal.SpinnersEnabled() {
		return &Spinner{disabled: true, message: message, writer: w}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Writer = w.Out
	s.Suffix = " " + message

	return &Spinner{spinner: s, message: message, writer: w}
}

// Spinner wraps briandowns/spinner with a plain-text fallback.
type Spinner struct {
	spinner  *spinner.Spinner
	message  string
	writer   *Writer
	disabled bool
	silent   bool
}

// Start begins the spinner animation.
func (s *Spinner) Start() {
	if s.disabled {
		if !s.silent {
			s.writer.Print("%s... ", s.message)
		}

		return
	}

	s.spinner.Start()
}

// Stop stops the spinner animation.
func (s *Spinner) Stop() {
	if !s.disabled {
		s.spinner.Stop()
	}
}

func (s *Spinner) finish(plain string, report func(string, ...any), message string) {
	if s.disabled {
		if !s.silent {
			s.writer.Println(plain)
		}
	} else {
		s.spinner.Stop()
	}

	if message != "" {
		report("%s", message)
	}
}

// StopWithSuccess stops the spinner and shows a success message.
func (s *Spinner) StopWithSuccess(message string) {
	s.finish("done", s.writer.Success, message)
}

// StopWithFailure stops the spinner and shows a failure message.
func (s *Spinner) StopWithFailure(message string) {
	s.finish("failed", s.writer.Failure, message)
}

// StopWithWarning stops the spinner and shows a warning message.
func (s *Spinner) StopWithWarning(message string) {
	s.finish("warning", s.writer.Warning, message)
}

// UpdateMessage changes the spinner message.
func (s *Spinner) UpdateMessage(message string) {
	s.message = message
	if !s.disabled {
		s.spinner.Suffix = " " + message
	}
}
