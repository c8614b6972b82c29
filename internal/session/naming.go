package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SessionPrefix starts every tmux session name this package creates.
const SessionPrefix = "agentpane-"

// SessionKey identifies one assistant session: at most one live tmux
// session exists per key.
type SessionKey struct {
	WorkspaceID string
	Tool        string
}

// SessionName returns the tmux session name for k.
func (k SessionKey) SessionName() string {
	return SessionName(k.WorkspaceID, k.Tool)
}

func (k SessionKey) String() string {
	return k.WorkspaceID + "/" + k.Tool
}

// SessionName builds agentpane-<tool>-<workspace> with every rune outside
// [A-Za-z0-9-] replaced by "-". When that replacement changed the id, a short
// hash of the raw id is appended so that distinct ids stay distinct.
func SessionName(workspaceID, tool string) string {
	ws, changed := sanitizeName(workspaceID)
	if changed {
		sum := sha256.Sum256([]byte(workspaceID))
		ws += "-" + hex.EncodeToString(sum[:4])
	}
	t, _ := sanitizeName(strings.ToLower(tool))
	return SessionPrefix + t + "-" + ws
}

func sanitizeName(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	changed := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
			changed = true
		}
	}
	return b.String(), changed
}
