package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldV, oldC, oldB := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = oldV, oldC, oldB })

	Version, Commit, BuildTime = "1.2.0", "abc1234", "2024-05-01T00:00:00Z"

	if got, want := String(), "1.2.0 (abc1234) built 2024-05-01T00:00:00Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := UserAgent(), "parkwatch/1.2.0 (abc1234)"; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}

func TestUserAgentShape(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "parkwatch/") || !strings.HasSuffix(ua, ")") {
		t.Errorf("UserAgent() = %q, want parkwatch/<version> (<commit>)", ua)
	}
	if Version == "" || Commit == "" {
		t.Errorf("Version = %q, Commit = %q, want non-empty", Version, Commit)
	}
}
