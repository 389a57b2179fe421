package version

import "testing"

func TestString(t *testing.T) {
	Version, Commit, BuildTime = "1.2.3", "abc1234", "2026-01-01T00:00:00Z"
	t.Cleanup(func() { Version, Commit, BuildTime = "dev", "unknown", "unknown" })

	if got, want := String(), "1.2.3 (abc1234) built 2026-01-01T00:00:00Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := UserAgent(), "DiscordBot (https://github.com/rickgao/shardline, 1.2.3)"; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
