package supervisor

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// ComposePrompt builds the payload written to a worker process's stdin:
// role and task context, the worker's base instructions, then the task
// description. task may be nil for processes without a task.
func ComposePrompt(w *models.Worker, task *models.Task) string {
	var sb strings.Builder

	name := w.Name
	if name == "" {
		name = w.ID
	}
	if w.Role != "" {
		fmt.Fprintf(&sb, "You are %s, working as %s.\n", name, w.Role)
	} else {
		fmt.Fprintf(&sb, "You are %s.\n", name)
	}
	if len(w.Skills) > 0 {
		fmt.Fprintf(&sb, "Your skills: %s.\n", strings.Join(w.Skills, ", "))
	}

	if task != nil {
		fmt.Fprintf(&sb, "\n## Task: %s\n", task.Title)
		fmt.Fprintf(&sb, "Task ID: %s\n", task.ID)
		fmt.Fprintf(&sb, "Priority: %s\n", task.Priority)
		if len(task.RequiredSkills) > 0 {
			fmt.Fprintf(&sb, "Required skills: %s\n", strings.Join(task.RequiredSkills, ", "))
		}
		if wf := task.Metadata[models.MetaWorkflowID]; wf != "" {
			fmt.Fprintf(&sb, "Workflow: %s\n", wf)
		}
	}

	if instructions := strings.TrimSpace(w.Instructions); instructions != "" {
		sb.WriteString("\n## Instructions\n")
		sb.WriteString(instructions)
		sb.WriteString("\n")
	}

	if task != nil && strings.TrimSpace(task.Description) != "" {
		sb.WriteString("\n## Description\n")
		sb.WriteString(strings.TrimSpace(task.Description))
		sb.WriteString("\n")
	}

	return sb.String()
}
