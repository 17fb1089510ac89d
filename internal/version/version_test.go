package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if v == "" {
		t.Fatal("Get() returned empty version")
	}
	if strings.TrimSpace(v) != v {
		t.Errorf("Get() = %q, want trimmed", v)
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, "foreman "+Get()+" (") {
		t.Errorf("String() = %q", s)
	}
	if Revision() == "" {
		t.Error("Revision() should never be empty")
	}
}
