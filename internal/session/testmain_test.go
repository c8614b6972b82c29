package session

import (
	"os"
	"os/exec"
	"strings"
	"testing"
)

// skipIfNoTmuxServer skips the test if tmux binary is missing or server isn't running.
func skipIfNoTmuxServer(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not available")
	}
	if err := exec.Command("tmux", "list-sessions").Run(); err != nil {
		t.Skip("tmux server not running")
	}
}

func TestMain(m *testing.M) {
	// Keep tests away from the user's real config and state.
	home, err := os.MkdirTemp("", "agentpane-test-home")
	if err != nil {
		panic(err)
	}
	os.Setenv(HomeEnvVar, home)

	code := m.Run()

	cleanupTestSessions()
	os.RemoveAll(home)
	os.Exit(code)
}

// cleanupTestSessions kills tmux sessions left by integration tests. Only
// the workspace marker used by those tests is matched.
func cleanupTestSessions() {
	out, err := exec.Command("tmux", "list-sessions", "-F", "#{session_name}").Output()
	if err != nil {
		return
	}
	for _, sess := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.HasPrefix(sess, SessionPrefix) && strings.Contains(sess, "apitest") {
			_ = exec.Command("tmux", "kill-session", "-t", sess).Run()
		}
	}
}
