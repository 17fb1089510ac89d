package exec

import (
	"context"
	"strings"
	"testing"
)

func TestExecRunner_Output(t *testing.T) {
	r := NewRunner()

	out, err := r.Output(context.Background(), "sh", "-c", "echo hello; echo ignored >&2")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "hello" {
		t.Errorf("Output = %q, want hello", got)
	}
}

func TestExecRunner_OutputIncludesStderrOnFailure(t *testing.T) {
	r := NewRunner()

	_, err := r.Output(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q should include stderr", err)
	}
}
