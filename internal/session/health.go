package session

import (
	"regexp"
	"strings"

	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

// shellPromptLine matches a login-shell prompt with nothing typed after it:
// "$", "user@host:~/src$", "(venv) ~/work %", "bash-5.2#". A single word
// before the sigil only counts in the "<shell>-<version>" form, so output
// such as "C#" is not a prompt.
var shellPromptLine = regexp.MustCompile(`^(\(\S+\)\s+)?((\S+@\S+|\S*[:~/]\S*|[a-z]*sh-\d[\d.]*)\s?)?[$#%]$`)

// brokenSignature looks for evidence that the assistant is no longer running
// in the pane: a known failure message near the bottom of the screen with no
// input box drawn, or the pane's shell prompt on the last line.
func brokenSignature(text string, p tmux.ToolProfile) (string, bool) {
	lines := tmux.ScreenLines(text)
	if len(lines) == 0 {
		return "", false
	}
	window := p.BrokenWindow
	if window <= 0 {
		window = tmux.DefaultBrokenWindow
	}
	start := max(len(lines)-window, 0)
	recent := strings.Join(lines[start:], "\n")
	// Tool output shown above a live input box may quote failures.
	if p.Patterns != nil && !tmux.HasPromptOrSeparator(text, p) {
		if sig, ok := p.Patterns.MatchBroken(recent); ok {
			return sig, true
		}
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if shellPromptLine.MatchString(last) {
		return "shell prompt: " + last, true
	}
	return "", false
}
