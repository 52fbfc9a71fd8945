package session

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"default", "spring-2026", "cs101_a", "x"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) error = %v", name, err)
		}
	}

	invalid := []string{"", "Spring", "has space", "a/b", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) should fail", name)
		}
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("cs101"); got != "cs101" {
		t.Errorf("Resolve(cs101) = %q", got)
	}
	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve(\"\") = %q, want %q", got, DefaultName)
	}
}

func TestPathsLiveUnderSessionDir(t *testing.T) {
	dir := Dir("cs101")
	for name, path := range map[string]string{
		"socket": SocketPath("cs101"),
		"lock":   LockPath("cs101"),
		"db":     DBPath("cs101"),
		"log":    LogPath("cs101"),
		"config": ConfigPath("cs101"),
	} {
		if !strings.HasPrefix(path, dir) {
			t.Errorf("%s path %q not under session dir %q", name, path, dir)
		}
	}
}
