// Package main provides UI utilities for the orchestrator CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI provides user-friendly output utilities.
type UI struct {
	out      io.Writer
	progress *mpb.Progress
	noColor  bool
	jsonMode bool
}

// NewUI creates a new UI instance.
func NewUI(jsonMode, noColor bool) *UI {
	return &UI{
		out:      os.Stdout,
		noColor:  noColor || !IsTerminal(),
		jsonMode: jsonMode,
	}
}

// Close waits for any multi-bar progress to finish rendering.
func (ui *UI) Close() {
	if ui.progress == nil {
		return
	}
	if IsTerminal() {
		ui.progress.Wait()
	} else {
		ui.progress.Shutdown()
	}
	ui.progress = nil
}

func (ui *UI) printf(attr color.Attribute, symbol, format string, args ...any) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Fprintf(ui.out, "%s %s\n", symbol, msg)
		return
	}
	color.New(attr).Fprintf(ui.out, "%s %s\n", symbol, msg)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...any) {
	ui.printf(color.FgGreen, "✓", format, args...)
}

// Error prints an error message.
func (ui *UI) Error(format string, args ...any) {
	ui.printf(color.FgRed, "✗", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...any) {
	ui.printf(color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...any) {
	ui.printf(color.FgCyan, "ℹ", format, args...)
}

// Spinner starts an indeterminate spinner on stderr. The returned stop
// function is safe to call when no spinner was started.
func (ui *UI) Spinner(message string) (stop func()) {
	if ui.jsonMode || !IsTerminal() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return s.Stop
}

// ProgressBar creates a single determinate bar on stderr.
func (ui *UI) ProgressBar(total int64, description string) *progressbar.ProgressBar {
	if ui.jsonMode {
		return progressbar.DefaultSilent(total)
	}
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("products"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Bar adds one bar to the shared multi-bar display.
func (ui *UI) Bar(name string, total int64) *mpb.Bar {
	if ui.jsonMode {
		return nil
	}
	if ui.progress == nil {
		ui.progress = mpb.New(mpb.WithWidth(48), mpb.WithOutput(os.Stderr))
	}
	return ui.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}), " done"),
		),
	)
}

// Table prints a formatted table.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	line := func(cells []string) string {
		var b strings.Builder
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", w-len([]rune(cell))+2))
		}
		return strings.TrimRight(b.String(), " ")
	}

	header := line(headers)
	if ui.noColor {
		fmt.Fprintln(ui.out, header)
	} else {
		color.New(color.FgCyan, color.Bold).Fprintln(ui.out, header)
	}
	for _, row := range rows {
		fmt.Fprintln(ui.out, line(row))
	}
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
