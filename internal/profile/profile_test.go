package profile

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"main", "ana", "a", "user_01", "with-dash", strings.Repeat("x", 64)}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) error = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "UPPER", "has space", "dot.name", "slash/name", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) expected error", name)
		}
	}
}

func TestPathsAreProfileScoped(t *testing.T) {
	a := DBPath("ana")
	b := DBPath("bruno")
	if a == b {
		t.Errorf("profiles share a db path: %s", a)
	}
	if !strings.Contains(a, "profiles") || !strings.HasSuffix(a, "glucolog.db") {
		t.Errorf("unexpected db path %s", a)
	}
	if !strings.HasSuffix(LogPath("ana"), "glucologd.log") {
		t.Errorf("unexpected log path %s", LogPath("ana"))
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("explicit"); got != "explicit" {
		t.Errorf("flag override ignored: got %q", got)
	}
}
