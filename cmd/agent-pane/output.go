package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

// Symbols for human-readable output
const (
	successSymbol = "✓"
	bulletSymbol  = "•"
)

// output prints either human-readable text or JSON.
type output struct {
	w        io.Writer
	jsonMode bool
}

// Success prints a success message or JSON response
func (o output) Success(message string, data any) error {
	if o.jsonMode {
		return o.JSON(data)
	}
	_, err := fmt.Fprintf(o.w, "%s %s\n", successSymbol, message)
	return err
}

// Print prints data (human-readable or JSON)
func (o output) Print(human string, data any) error {
	if o.jsonMode {
		return o.JSON(data)
	}
	_, err := io.WriteString(o.w, human)
	return err
}

func (o output) JSON(data any) error {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("format JSON: %w", err)
	}
	_, err = fmt.Fprintln(o.w, string(out))
	return err
}

// formatStatus renders a descriptor as "waiting (high, prompt_detected)"
// followed by the question and its options when present.
func formatStatus(d tmux.StatusDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s)\n", d.Status, d.Confidence, d.Reason)
	if d.Question != "" {
		fmt.Fprintf(&b, "  %s\n", d.Question)
	}
	for _, opt := range d.PromptOptions {
		marker := " "
		if opt.Selected {
			marker = "❯"
		}
		fmt.Fprintf(&b, "  %s %s) %s\n", marker, opt.Key, opt.Label)
	}
	return b.String()
}
