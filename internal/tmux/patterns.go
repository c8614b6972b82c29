package tmux

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/asheshgoplani/agent-pane/internal/logging"
)

var patternLog = logging.ForComponent(logging.CompStatus)

// Lookback windows, counted in lines from the bottom of the capture.
const (
	DefaultChoiceWindow   = 15
	DefaultPromptWindow   = 15
	DefaultThinkingWindow = 5
	DefaultBrokenWindow   = 10
)

// Prompt glyphs the assistant CLIs draw at an empty input line.
const (
	LegacyPromptGlyph  = ">"
	UpdatedPromptGlyph = "❯"
)

// RawPatterns holds string-form patterns before compilation.
// Patterns prefixed with "re:" are compiled as regex; everything else uses strings.Contains.
type RawPatterns struct {
	BusyPatterns   []string
	PromptPatterns []string
	BrokenPatterns []string
	SpinnerChars   []string
}

// ResolvedPatterns is the compiled form of RawPatterns.
type ResolvedPatterns struct {
	BusyStrings   []string
	BusyRegexps   []*regexp.Regexp
	PromptStrings []string
	PromptRegexps []*regexp.Regexp
	BrokenStrings []string
	BrokenRegexps []*regexp.Regexp
	SpinnerChars  []string

	// SpinnerActive matches a spinner glyph followed by text and an ellipsis.
	SpinnerActive *regexp.Regexp
}

// ToolProfile bundles everything tool-specific: how to launch the CLI,
// what its screens look like, and how far back each check looks.
type ToolProfile struct {
	Name      string
	Command   string
	Args      []string
	NestedEnv string

	PromptGlyphs  []string
	CursorGlyphs  []string
	RequireCursor bool

	ChoiceWindow   int
	PromptWindow   int
	ThinkingWindow int
	BrokenWindow   int

	Patterns *ResolvedPatterns
}

func brailleSpinner() []string {
	return []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
}

// Refusal text printed when the CLI detects it is running inside itself.
const claudeNestedRefusal = "cannot be launched inside another Claude Code session"

func crashPatterns() []string {
	return []string{
		"command not found",
		"Segmentation fault",
		"re:(?m)^panic: ",
		"re:(?m)^Error: Cannot find module",
		"re:(?m)^Killed\\s*$",
	}
}

// DefaultRawPatterns returns the built-in patterns for tool. Unknown tools get
// the generic set every assistant CLI shares.
func DefaultRawPatterns(tool string) *RawPatterns {
	switch strings.ToLower(tool) {
	case "claude":
		return &RawPatterns{
			BusyPatterns: []string{
				`re:(?m)^\s*[✳✽✶✻✢·]\s*\S.*…`,
				"ctrl+c to interrupt",
				"esc to interrupt",
			},
			BrokenPatterns: append([]string{claudeNestedRefusal}, crashPatterns()...),
			SpinnerChars:   append(brailleSpinner(), "✳", "✽", "✶", "✢"),
		}
	case "codex":
		return &RawPatterns{
			BusyPatterns: []string{
				"esc to interrupt",
				"ctrl+c to interrupt",
				`re:(?m)^\s*•\s*Working`,
			},
			BrokenPatterns: crashPatterns(),
			SpinnerChars:   brailleSpinner(),
		}
	case "gemini":
		return &RawPatterns{
			BusyPatterns:   []string{"esc to cancel", "esc to interrupt"},
			PromptPatterns: []string{"Type your message"},
			BrokenPatterns: crashPatterns(),
			SpinnerChars:   brailleSpinner(),
		}
	default:
		return &RawPatterns{
			BusyPatterns:   []string{"esc to interrupt", "ctrl+c to interrupt"},
			BrokenPatterns: crashPatterns(),
			SpinnerChars:   brailleSpinner(),
		}
	}
}

// DefaultProfile returns the built-in profile for tool.
func DefaultProfile(tool string) ToolProfile {
	name := strings.ToLower(strings.TrimSpace(tool))
	p := ToolProfile{
		Name:           name,
		Command:        name,
		PromptGlyphs:   []string{LegacyPromptGlyph, UpdatedPromptGlyph},
		CursorGlyphs:   []string{"❯", "›", ">"},
		ChoiceWindow:   DefaultChoiceWindow,
		PromptWindow:   DefaultPromptWindow,
		ThinkingWindow: DefaultThinkingWindow,
		BrokenWindow:   DefaultBrokenWindow,
	}
	switch name {
	case "claude":
		p.NestedEnv = "CLAUDECODE"
		p.RequireCursor = true
	case "codex":
		p.PromptGlyphs = append(p.PromptGlyphs, "›")
	}
	resolved, _ := CompilePatterns(DefaultRawPatterns(name))
	p.Patterns = resolved
	return p
}

// WithPatterns returns a copy of p whose patterns are defaults merged with
// overrides and extras, as MergeRawPatterns describes.
func (p ToolProfile) WithPatterns(overrides, extras *RawPatterns) ToolProfile {
	merged := MergeRawPatterns(DefaultRawPatterns(p.Name), overrides, extras)
	if resolved, err := CompilePatterns(merged); err == nil {
		p.Patterns = resolved
	}
	return p
}

// CompilePatterns compiles raw string patterns into ready-to-use ResolvedPatterns.
// Invalid regex patterns are logged as warnings and skipped.
func CompilePatterns(raw *RawPatterns) (*ResolvedPatterns, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil RawPatterns")
	}

	resolved := &ResolvedPatterns{}
	resolved.BusyStrings, resolved.BusyRegexps = splitPatterns("busy", raw.BusyPatterns)
	resolved.PromptStrings, resolved.PromptRegexps = splitPatterns("prompt", raw.PromptPatterns)
	resolved.BrokenStrings, resolved.BrokenRegexps = splitPatterns("broken", raw.BrokenPatterns)
	resolved.SpinnerChars = copySlice(raw.SpinnerChars)

	if len(raw.SpinnerChars) > 0 {
		re, err := regexp.Compile(`^\s*` + buildSpinnerCharClass(raw.SpinnerChars) + `\s*\S.*…`)
		if err != nil {
			patternLog.Warn("spinner_pattern_invalid", slog.String("error", err.Error()))
		} else {
			resolved.SpinnerActive = re
		}
	}
	return resolved, nil
}

func splitPatterns(kind string, patterns []string) ([]string, []*regexp.Regexp) {
	var plain []string
	var res []*regexp.Regexp
	for _, p := range patterns {
		if expr, ok := strings.CutPrefix(p, "re:"); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				patternLog.Warn("invalid_"+kind+"_regex",
					slog.String("pattern", p),
					slog.String("error", err.Error()))
				continue
			}
			res = append(res, re)
			continue
		}
		if p != "" {
			plain = append(plain, p)
		}
	}
	return plain, res
}

// buildSpinnerCharClass builds a regex character class from spinner char strings.
// e.g., ["⠋", "⠙", "✳"] -> "[⠋⠙✳]"
func buildSpinnerCharClass(chars []string) string {
	var b strings.Builder
	b.WriteRune('[')
	for _, ch := range chars {
		b.WriteString(regexp.QuoteMeta(ch))
	}
	b.WriteRune(']')
	return b.String()
}

// MergeRawPatterns merges defaults with overrides and extras.
//   - A non-nil override field (even empty) replaces the default.
//   - extras are appended afterwards.
func MergeRawPatterns(defaults, overrides, extras *RawPatterns) *RawPatterns {
	result := &RawPatterns{}
	if defaults != nil {
		result.BusyPatterns = copySlice(defaults.BusyPatterns)
		result.PromptPatterns = copySlice(defaults.PromptPatterns)
		result.BrokenPatterns = copySlice(defaults.BrokenPatterns)
		result.SpinnerChars = copySlice(defaults.SpinnerChars)
	}
	if overrides != nil {
		if overrides.BusyPatterns != nil {
			result.BusyPatterns = copySlice(overrides.BusyPatterns)
		}
		if overrides.PromptPatterns != nil {
			result.PromptPatterns = copySlice(overrides.PromptPatterns)
		}
		if overrides.BrokenPatterns != nil {
			result.BrokenPatterns = copySlice(overrides.BrokenPatterns)
		}
		if overrides.SpinnerChars != nil {
			result.SpinnerChars = copySlice(overrides.SpinnerChars)
		}
	}
	if extras != nil {
		result.BusyPatterns = append(result.BusyPatterns, extras.BusyPatterns...)
		result.PromptPatterns = append(result.PromptPatterns, extras.PromptPatterns...)
		result.BrokenPatterns = append(result.BrokenPatterns, extras.BrokenPatterns...)
		result.SpinnerChars = append(result.SpinnerChars, extras.SpinnerChars...)
	}
	return result
}

// MatchBusy reports whether a single line carries a thinking marker.
func (r *ResolvedPatterns) MatchBusy(line string) bool {
	if r == nil {
		return false
	}
	lower := strings.ToLower(line)
	for _, s := range r.BusyStrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	for _, re := range r.BusyRegexps {
		if re.MatchString(line) {
			return true
		}
	}
	if r.SpinnerActive != nil && r.SpinnerActive.MatchString(line) {
		return true
	}
	trimmed := strings.TrimSpace(line)
	for _, ch := range brailleSpinner() {
		if strings.HasPrefix(trimmed, ch) {
			return true
		}
	}
	return false
}

// MatchPrompt reports whether a line matches one of the tool's extra
// ready-state patterns.
func (r *ResolvedPatterns) MatchPrompt(line string) bool {
	if r == nil {
		return false
	}
	for _, s := range r.PromptStrings {
		if strings.Contains(line, s) {
			return true
		}
	}
	for _, re := range r.PromptRegexps {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// MatchBroken returns the first broken-session signature found in text.
func (r *ResolvedPatterns) MatchBroken(text string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, s := range r.BrokenStrings {
		if strings.Contains(text, s) {
			return s, true
		}
	}
	for _, re := range r.BrokenRegexps {
		if re.MatchString(text) {
			return "re:" + re.String(), true
		}
	}
	return "", false
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}
