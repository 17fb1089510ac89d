package supervisor

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func TestComposePrompt(t *testing.T) {
	w := &models.Worker{ID: "w1", Name: "Ada", Role: "reviewer", Skills: []string{"go", "sql"}, Instructions: "  Be terse.  "}
	task := &models.Task{
		ID:             "t1",
		Title:          "Review PR",
		Description:    "Check the migration.",
		Priority:       models.PriorityHigh,
		RequiredSkills: []string{"sql"},
		Metadata:       map[string]string{models.MetaWorkflowID: "wf1"},
	}

	got := ComposePrompt(w, task)

	order := []string{"You are Ada, working as reviewer.", "Your skills: go, sql.", "## Task: Review PR",
		"Priority: high", "Workflow: wf1", "## Instructions\nBe terse.", "## Description\nCheck the migration."}
	last := -1
	for _, part := range order {
		idx := strings.Index(got, part)
		if idx < 0 {
			t.Fatalf("prompt missing %q:\n%s", part, got)
		}
		if idx < last {
			t.Errorf("%q out of order", part)
		}
		last = idx
	}
}

func TestComposePrompt_NoTask(t *testing.T) {
	got := ComposePrompt(&models.Worker{ID: "w9"}, nil)
	if got != "You are w9.\n" {
		t.Errorf("ComposePrompt = %q", got)
	}
}

func TestAppendLog_Compacts(t *testing.T) {
	var logs []models.LogEntry
	for i := 0; i < 1000; i++ {
		logs = appendLog(logs, models.LogEntry{Message: "x"})
	}
	if len(logs) != 1000 {
		t.Fatalf("len = %d, want 1000 before cap", len(logs))
	}

	logs = appendLog(logs, models.LogEntry{Message: "newest"})
	if len(logs) != 500 {
		t.Fatalf("len = %d, want 500 after compaction", len(logs))
	}
	if logs[len(logs)-1].Message != "newest" {
		t.Error("newest entry should be kept")
	}
}

func TestSampleProcess(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		wantMB  float64
		wantCPU float64
		wantErr bool
	}{
		{"normal", "  10240  3.0\n", 10, 3, false},
		{"empty", "", 0, 0, true},
		{"garbage", "abc def", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := SampleProcess(t.Context(), &fakeRunner{out: []byte(tt.out)}, 42)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if s.MemoryMB != tt.wantMB || s.CPUPercent != tt.wantCPU {
				t.Errorf("Sample = %+v", s)
			}
		})
	}
}
