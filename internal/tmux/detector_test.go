package tmux

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func screen(lines ...string) string {
	return strings.Join(lines, "\n")
}

func TestClassifyEndToEnd(t *testing.T) {
	claude := DefaultProfile("claude")

	tests := []struct {
		name       string
		text       string
		lastOutput time.Time
		want       StatusDescriptor
	}{
		{
			name: "yes no question",
			text: "Do you want to proceed? (y/n)",
			want: StatusDescriptor{
				Status: StatusWaiting, Confidence: ConfidenceHigh, Reason: ReasonPromptDetected,
				HasActivePrompt: true,
				Question:        "Do you want to proceed? (y/n)",
				PromptOptions:   []Choice{{Key: "y", Label: "yes"}, {Key: "n", Label: "no"}},
			},
		},
		{
			name: "separator and bare prompt",
			text: screen("some earlier output", strings.Repeat("─", 40), "❯ ", strings.Repeat("─", 40)),
			want: StatusDescriptor{Status: StatusReady, Confidence: ConfidenceHigh, Reason: ReasonInputPrompt},
		},
		{
			name: "spinner on last line",
			text: screen("reading files", "✳ Planning…"),
			want: StatusDescriptor{Status: StatusRunning, Confidence: ConfidenceHigh, Reason: ReasonThinking},
		},
		{
			name: "unrelated text without timestamp",
			text: "compiling project\nlinking",
			want: StatusDescriptor{Status: StatusRunning, Confidence: ConfidenceLow, Reason: ReasonDefault},
		},
		{
			name:       "unrelated text with stale output",
			text:       "compiling project\nlinking",
			lastOutput: now.Add(-11 * time.Second),
			want:       StatusDescriptor{Status: StatusReady, Confidence: ConfidenceLow, Reason: ReasonNoRecentOutput},
		},
		{
			name:       "unrelated text with fresh output",
			text:       "compiling project",
			lastOutput: now.Add(-2 * time.Second),
			want:       StatusDescriptor{Status: StatusRunning, Confidence: ConfidenceLow, Reason: ReasonDefault},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text, claude, tt.lastOutput, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThinkingWindowBoundary(t *testing.T) {
	p := DefaultProfile("claude")
	marker := "✢ Compacting conversation…"

	at := func(fromEnd int) string {
		lines := make([]string, 12)
		for i := range lines {
			lines[i] = "plain output line"
		}
		lines[len(lines)-fromEnd] = marker
		return screen(lines...)
	}

	got := Classify(at(5), p, time.Time{}, now)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, ConfidenceHigh, got.Confidence)
	assert.Equal(t, ReasonThinking, got.Reason)

	got = Classify(at(6), p, time.Time{}, now)
	assert.Equal(t, ReasonDefault, got.Reason)

	got = Classify(at(6), p, now.Add(-time.Minute), now)
	assert.Equal(t, ReasonNoRecentOutput, got.Reason)
}

func TestStaleSummaryWithTrailingPrompt(t *testing.T) {
	text := screen(
		"✶ Refactoring parser… (41s · ↓ 1.2k tokens)",
		"Done. Updated 3 files.",
		"",
		"Summary of changes:",
		"- parser.go",
		"- lexer.go",
		strings.Repeat("─", 60),
		">",
		strings.Repeat("─", 60),
	)
	got := Classify(text, DefaultProfile("claude"), time.Time{}, now)
	assert.Equal(t, StatusReady, got.Status)
	assert.Equal(t, ReasonInputPrompt, got.Reason)
}

func TestTrailingBlankLinesAreNotContent(t *testing.T) {
	text := "reading\n✳ Thinking…" + strings.Repeat("\n", 20) + "   \n"
	got := Classify(text, DefaultProfile("claude"), time.Time{}, now)
	assert.Equal(t, ReasonThinking, got.Reason)
}

func TestInterleavedBlankLinesCount(t *testing.T) {
	text := screen("✳ Thinking…", "", "", "", "", "", "done")
	got := Classify(text, DefaultProfile("claude"), time.Time{}, now)
	assert.Equal(t, ReasonDefault, got.Reason)
}

func TestNumberedChoicePrompt(t *testing.T) {
	text := screen(
		"╭──────────────────────────────────────────────╮",
		"│ Bash command                                 │",
		"│   rm -rf build                               │",
		"│ Do you want to proceed?                      │",
		"│ ❯ 1. Yes                                     │",
		"│   2. Yes, and don't ask again for rm         │",
		"│   3. No, and tell Claude what to do          │",
		"╰──────────────────────────────────────────────╯",
	)
	got := Classify(text, DefaultProfile("claude"), time.Time{}, now)
	require.Equal(t, StatusWaiting, got.Status)
	assert.True(t, got.HasActivePrompt)
	assert.Equal(t, "Do you want to proceed?", got.Question)
	require.Len(t, got.PromptOptions, 3)
	assert.Equal(t, Choice{Key: "1", Label: "Yes", Selected: true}, got.PromptOptions[0])
	assert.Equal(t, "No, and tell Claude what to do", got.PromptOptions[2].Label)
}

func TestChoiceCursorRequirementIsPerProfile(t *testing.T) {
	text := screen(
		"Which file should I edit?",
		"  1. main.go",
		"  2. util.go",
	)
	assert.False(t, Classify(text, DefaultProfile("claude"), time.Time{}, now).HasActivePrompt)

	got := Classify(text, DefaultProfile("codex"), time.Time{}, now)
	assert.True(t, got.HasActivePrompt)
	assert.Equal(t, []Choice{{Key: "1", Label: "main.go"}, {Key: "2", Label: "util.go"}}, got.PromptOptions)
}

func TestAnsweredChoiceIsStale(t *testing.T) {
	text := screen(
		"Do you want to proceed?",
		"❯ 1. Yes",
		"  2. No",
		"Ran rm -rf build",
		"❯ ",
	)
	got := Classify(text, DefaultProfile("claude"), time.Time{}, now)
	assert.Equal(t, StatusReady, got.Status)
	assert.Equal(t, ReasonInputPrompt, got.Reason)
	assert.False(t, got.HasActivePrompt)

	got = Classify(screen("Overwrite config? [y/N]", "n", ">"), DefaultProfile("codex"), time.Time{}, now)
	assert.Equal(t, ReasonInputPrompt, got.Reason)
}

func TestYesNoDefaults(t *testing.T) {
	got := Classify("Install dependencies? [Y/n]", DefaultProfile("gemini"), time.Time{}, now)
	require.True(t, got.HasActivePrompt)
	assert.True(t, got.PromptOptions[0].Selected)
	assert.False(t, got.PromptOptions[1].Selected)

	got = Classify("Delete branch (yes/no)?", DefaultProfile("gemini"), time.Time{}, now)
	assert.Equal(t, ReasonPromptDetected, got.Reason)
}

func TestANSIIsStripped(t *testing.T) {
	text := "\x1b[38;5;174m✳\x1b[0m \x1b[1mPlanning…\x1b[0m"
	got := Classify(text, DefaultProfile("claude"), time.Time{}, now)
	assert.Equal(t, ReasonThinking, got.Reason)
}

func TestThinkingMarkers(t *testing.T) {
	for _, line := range []string{
		"⠋ Generating response",
		"  (esc to interrupt)",
		"Working · ctrl+c to interrupt",
		"✻ Cogitating… (3s)",
	} {
		got := Classify(line, DefaultProfile("claude"), time.Time{}, now)
		assert.Equal(t, ReasonThinking, got.Reason, line)
	}
}

func TestPromptSuggestionCountsAsBare(t *testing.T) {
	got := Classify(`❯ Try "write a test for detector.go"`, DefaultProfile("claude"), time.Time{}, now)
	assert.Equal(t, ReasonInputPrompt, got.Reason)

	got = Classify("❯ fix the bug in parser", DefaultProfile("claude"), time.Time{}, now)
	assert.NotEqual(t, ReasonInputPrompt, got.Reason, "typed but unsent input is not an empty prompt")
}

func TestClassifyIsDeterministic(t *testing.T) {
	text := screen("Do you want to proceed?", "❯ 1. Yes", "  2. No")
	p := DefaultProfile("claude")
	assert.Equal(t, Classify(text, p, now, now), Classify(text, p, now, now))
}

func TestClassifierStaleAfterOverride(t *testing.T) {
	c := Classifier{Profile: DefaultProfile("claude"), StaleAfter: time.Minute}
	got := c.Classify("output", now.Add(-30*time.Second), now)
	assert.Equal(t, ReasonDefault, got.Reason)
	got = c.Classify("output", now.Add(-2*time.Minute), now)
	assert.Equal(t, ReasonNoRecentOutput, got.Reason)
}

func TestHasPromptOrSeparator(t *testing.T) {
	p := DefaultProfile("claude")
	assert.True(t, HasPromptOrSeparator("Welcome\n"+strings.Repeat("━", 30), p))
	assert.True(t, HasPromptOrSeparator("Welcome\n>", p))
	assert.False(t, HasPromptOrSeparator("user@host:~$ claude\nLoading", p))
	assert.True(t, HasReadyPrompt("│ > │", p))
}
