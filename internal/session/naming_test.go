package session

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionName(t *testing.T) {
	assert.Equal(t, "agentpane-claude-my-repo", SessionName("my-repo", "claude"))
	assert.Equal(t, "agentpane-codex-Repo42", SessionName("Repo42", "Codex"))

	valid := regexp.MustCompile(`^agentpane-[a-z0-9-]+-[A-Za-z0-9-]+$`)
	for _, ws := range []string{"/home/me/src/app", "feature/login", "a.b", "üñí", "with space"} {
		assert.Regexp(t, valid, SessionName(ws, "claude"), ws)
	}
}

func TestSessionNameDistinctAfterSanitizing(t *testing.T) {
	a := SessionName("feature/login", "claude")
	b := SessionName("feature.login", "claude")
	c := SessionName("feature-login", "claude")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
	assert.Equal(t, "agentpane-claude-feature-login", c)
	assert.Len(t, a, len(c)+9, "sanitized ids carry a dash and 8 hex chars")
}

func TestSessionNameDeterministic(t *testing.T) {
	assert.Equal(t, SessionName("/tmp/x", "gemini"), SessionName("/tmp/x", "gemini"))
	assert.Equal(t, SessionName("/tmp/x", "gemini"), SessionKey{WorkspaceID: "/tmp/x", Tool: "gemini"}.SessionName())
}
