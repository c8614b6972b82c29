package tmux

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// Status is the coarse state of an assistant session.
type Status string

const (
	StatusReady   Status = "ready"
	StatusRunning Status = "running"
	StatusWaiting Status = "waiting"
	StatusBroken  Status = "broken"
)

// Confidence says whether a pattern matched or the status was inferred.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Reason names the rule that produced a StatusDescriptor.
type Reason string

const (
	ReasonPromptDetected  Reason = "prompt_detected"
	ReasonInputPrompt     Reason = "input_prompt"
	ReasonThinking        Reason = "thinking_indicator"
	ReasonNoRecentOutput  Reason = "no_recent_output"
	ReasonDefault         Reason = "default"
	ReasonSessionMissing  Reason = "session_missing"
	ReasonBrokenSignature Reason = "broken_signature"
)

// DefaultStaleAfter is how long a pane may stay silent before an otherwise
// unrecognised screen is treated as idle.
const DefaultStaleAfter = 10 * time.Second

// Choice is one selectable answer of an interactive prompt.
type Choice struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Selected bool   `json:"selected,omitempty"`
}

// StatusDescriptor is the classification of one capture.
type StatusDescriptor struct {
	Status          Status     `json:"status"`
	Confidence      Confidence `json:"confidence"`
	Reason          Reason     `json:"reason"`
	HasActivePrompt bool       `json:"has_active_prompt"`
	Question        string     `json:"question,omitempty"`
	PromptOptions   []Choice   `json:"prompt_options,omitempty"`
}

// Classifier maps captured pane text to a StatusDescriptor for one tool.
type Classifier struct {
	Profile    ToolProfile
	StaleAfter time.Duration
}

// Classify runs the default classifier for profile.
// A zero lastOutput means the output time is unknown.
func Classify(text string, profile ToolProfile, lastOutput, now time.Time) StatusDescriptor {
	return Classifier{Profile: profile, StaleAfter: DefaultStaleAfter}.Classify(text, lastOutput, now)
}

// Classify checks, in order: interactive choice, ready prompt, thinking
// marker. Each check only looks at its own window of trailing lines.
func (c Classifier) Classify(text string, lastOutput, now time.Time) StatusDescriptor {
	lines := ScreenLines(text)
	p := c.Profile

	if q, opts, ok := findChoicePrompt(tail(lines, windowOr(p.ChoiceWindow, DefaultChoiceWindow)), p); ok {
		return StatusDescriptor{
			Status:          StatusWaiting,
			Confidence:      ConfidenceHigh,
			Reason:          ReasonPromptDetected,
			HasActivePrompt: true,
			Question:        q,
			PromptOptions:   opts,
		}
	}

	if hasReadyPrompt(tail(lines, windowOr(p.PromptWindow, DefaultPromptWindow)), p) {
		return StatusDescriptor{Status: StatusReady, Confidence: ConfidenceHigh, Reason: ReasonInputPrompt}
	}

	for _, line := range tail(lines, windowOr(p.ThinkingWindow, DefaultThinkingWindow)) {
		if p.Patterns.MatchBusy(line) {
			return StatusDescriptor{Status: StatusRunning, Confidence: ConfidenceHigh, Reason: ReasonThinking}
		}
	}

	stale := c.StaleAfter
	if stale <= 0 {
		stale = DefaultStaleAfter
	}
	if !lastOutput.IsZero() && now.Sub(lastOutput) > stale {
		return StatusDescriptor{Status: StatusReady, Confidence: ConfidenceLow, Reason: ReasonNoRecentOutput}
	}
	return StatusDescriptor{Status: StatusRunning, Confidence: ConfidenceLow, Reason: ReasonDefault}
}

// ScreenLines strips escape sequences, splits text into lines and drops the
// blank padding tmux leaves below the last written row.
func ScreenLines(text string) []string {
	text = ansi.Strip(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}

// HasReadyPrompt reports whether a bare prompt glyph sits within the
// profile's prompt window.
func HasReadyPrompt(text string, p ToolProfile) bool {
	return hasReadyPrompt(tail(ScreenLines(text), windowOr(p.PromptWindow, DefaultPromptWindow)), p)
}

// HasPromptOrSeparator is the launch readiness probe: a prompt glyph or the
// horizontal rule drawn around the input box.
func HasPromptOrSeparator(text string, p ToolProfile) bool {
	lines := tail(ScreenLines(text), windowOr(p.PromptWindow, DefaultPromptWindow))
	if hasReadyPrompt(lines, p) {
		return true
	}
	for _, line := range lines {
		if isSeparator(line) {
			return true
		}
	}
	return false
}

func windowOr(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// stripFrame removes box-drawing borders some CLIs draw around input areas.
func stripFrame(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "│┃║|")
	s = strings.TrimRight(s, "│┃║|")
	return strings.TrimSpace(s)
}

func isSeparator(line string) bool {
	s := strings.TrimSpace(line)
	if len([]rune(s)) < 10 {
		return false
	}
	for _, r := range s {
		switch r {
		case '─', '━', '-', '═', '╌', '┄':
		default:
			return false
		}
	}
	return true
}

// isBarePrompt matches an empty input line: just the glyph, or the glyph
// followed by the CLI's placeholder suggestion ("❯ Try "fix lint errors"").
func isBarePrompt(line string, p ToolProfile) bool {
	s := stripFrame(line)
	for _, g := range p.PromptGlyphs {
		if s == g {
			return true
		}
		if rest, ok := strings.CutPrefix(s, g+" "); ok {
			rest = strings.TrimSpace(rest)
			if rest == "" || strings.HasPrefix(rest, "Try ") {
				return true
			}
		}
	}
	return false
}

func hasReadyPrompt(lines []string, p ToolProfile) bool {
	for _, line := range lines {
		if isBarePrompt(line, p) || p.Patterns.MatchPrompt(line) {
			return true
		}
	}
	return false
}

var (
	optionLine = regexp.MustCompile(`^(?:([❯›>▶])\s*)?(\d{1,2})[.)]\s+(\S.*)$`)
	yesNoTail  = regexp.MustCompile(`(?i)[(\[](y(?:es)?)\s*/\s*(no?)[)\]]\s*[:?]?\s*$`)
)

type option struct {
	idx    int
	num    int
	label  string
	cursor bool
}

// findChoicePrompt looks for the most recent question with numbered
// options, then for a (y/n)-style question. A bare prompt drawn below
// either one means the question was already answered.
func findChoicePrompt(lines []string, p ToolProfile) (string, []Choice, bool) {
	if q, opts, ok := numberedChoice(lines, p); ok {
		return q, opts, true
	}
	return yesNoChoice(lines, p)
}

func numberedChoice(lines []string, p ToolProfile) (string, []Choice, bool) {
	var run, best []option
	flush := func() {
		if len(run) >= 2 {
			best = run
		}
		run = nil
	}
	for i, line := range lines {
		m := optionLine.FindStringSubmatch(stripFrame(line))
		if m == nil {
			flush()
			continue
		}
		n, _ := strconv.Atoi(m[2])
		if len(run) > 0 && n != run[len(run)-1].num+1 {
			flush()
		}
		if len(run) == 0 && n != 1 {
			continue
		}
		run = append(run, option{idx: i, num: n, label: strings.TrimSpace(m[3]), cursor: isCursor(m[1], p)})
	}
	flush()
	if best == nil {
		return "", nil, false
	}

	if p.RequireCursor {
		found := false
		for _, o := range best {
			found = found || o.cursor
		}
		if !found {
			return "", nil, false
		}
	}

	last := best[len(best)-1].idx
	for _, line := range lines[last+1:] {
		if isBarePrompt(line, p) {
			return "", nil, false
		}
	}

	question := ""
	for i, seen := best[0].idx-1, 0; i >= 0 && seen < 4; i-- {
		s := stripFrame(lines[i])
		if s == "" {
			continue
		}
		seen++
		if strings.HasSuffix(s, "?") || yesNoTail.MatchString(s) {
			question = s
			break
		}
	}
	if question == "" {
		return "", nil, false
	}

	choices := make([]Choice, len(best))
	for i, o := range best {
		choices[i] = Choice{Key: strconv.Itoa(o.num), Label: o.label, Selected: o.cursor}
	}
	return question, choices, true
}

func isCursor(glyph string, p ToolProfile) bool {
	if glyph == "" {
		return false
	}
	for _, g := range p.CursorGlyphs {
		if g == glyph {
			return true
		}
	}
	return false
}

func yesNoChoice(lines []string, p ToolProfile) (string, []Choice, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if isBarePrompt(lines[i], p) {
			return "", nil, false
		}
		s := stripFrame(lines[i])
		m := yesNoTail.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		yes, no := m[1], m[2]
		yesDefault := yes != strings.ToLower(yes)
		noDefault := no != strings.ToLower(no)
		return s, []Choice{
			{Key: "y", Label: "yes", Selected: yesDefault && !noDefault},
			{Key: "n", Label: "no", Selected: noDefault && !yesDefault},
		}, true
	}
	return "", nil, false
}
