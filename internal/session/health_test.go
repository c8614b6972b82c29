package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asheshgoplani/agent-pane/internal/tmux"
)

func TestBrokenSignature(t *testing.T) {
	claude := tmux.DefaultProfile("claude")

	broken := map[string]string{
		"nested refusal":  "Error: Claude Code cannot be launched inside another Claude Code session.",
		"bare dollar":     "claude exited\n$",
		"user at host":    "user@devbox:~/src/app$",
		"venv prompt":     "(venv) ~/work %",
		"root prompt":     "root@ci:/#",
		"panic":           "panic: runtime error: index out of range\ngoroutine 1 [running]:\nmain.main()",
		"command missing": "bash: claude: command not found\n",
	}
	for name, text := range broken {
		t.Run(name, func(t *testing.T) {
			_, ok := brokenSignature(text, claude)
			assert.True(t, ok, text)
		})
	}

	healthy := map[string]string{
		"ready prompt":   "─────\n❯ \n─────",
		"thinking":       "✳ Thinking… (esc to interrupt)",
		"progress":       "Downloading 45%",
		"markdown price": "Total cost: 12 $",
		"empty":          "",
		"choice":         "Do you want to proceed?\n❯ 1. Yes\n  2. No",
		"csharp heading": "Languages used:\nC#",
		"issue ref":      "see issue #",
	}
	for name, text := range healthy {
		t.Run(name, func(t *testing.T) {
			sig, ok := brokenSignature(text, claude)
			assert.False(t, ok, "unexpected signature %q", sig)
		})
	}
}

func TestBrokenSignatureOnlyLooksAtRecentLines(t *testing.T) {
	lines := []string{"bash: claude: command not found"}
	for range tmux.DefaultBrokenWindow {
		lines = append(lines, "assistant output")
	}
	_, ok := brokenSignature(strings.Join(lines, "\n"), tmux.DefaultProfile("claude"))
	assert.False(t, ok, "old failure text scrolled out of the window")
}

func TestBrokenSignatureIgnoresToolOutputAboveInputBox(t *testing.T) {
	claude := tmux.DefaultProfile("claude")
	rule := strings.Repeat("─", 40)
	for _, failure := range []string{
		"  ⎿  bash: golangci-lint: command not found",
		"  ⎿  Segmentation fault (core dumped)",
		"  ⎿  panic: runtime error: nil map write",
	} {
		text := strings.Join([]string{"⏺ Bash(make lint)", failure, "", "⏺ The linter is not installed.", rule, "❯ ", rule}, "\n")
		sig, ok := brokenSignature(text, claude)
		assert.False(t, ok, "healthy session flagged with %q", sig)
	}

	_, ok := brokenSignature("Segmentation fault (core dumped)\nexited", claude)
	assert.True(t, ok, "failure text without an input box still counts")
}

func TestShellPromptLine(t *testing.T) {
	for _, line := range []string{"$", "#", "%", "~ $", "user@host:~/src$", "(venv) ~/work %", "bash-5.2#", "zsh-5.9%", "/tmp#"} {
		assert.True(t, shellPromptLine.MatchString(line), line)
	}
	for _, line := range []string{"C#", "F#", "Heading #", "Downloading 45%", "cost $", "❯"} {
		assert.False(t, shellPromptLine.MatchString(line), line)
	}
}
