package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/internal/queue"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// taskEntry is one task in a --tasks file. Key is local to the file and is
// what depends_on refers to; queue IDs are assigned on submit.
type taskEntry struct {
	Key         string            `yaml:"key" validate:"required"`
	Title       string            `yaml:"title" validate:"required"`
	Description string            `yaml:"description"`
	Skills      []string          `yaml:"skills"`
	Priority    models.Priority   `yaml:"priority" validate:"omitempty,oneof=low medium high"`
	DependsOn   []string          `yaml:"depends_on"`
	MaxRetries  *int              `yaml:"max_retries" validate:"omitempty,min=0"`
	Estimate    time.Duration     `yaml:"estimate"`
	Metadata    map[string]string `yaml:"metadata"`
}

type taskFile struct {
	Tasks []*taskEntry `yaml:"tasks" validate:"required,min=1,dive,required"`
}

var taskValidate = validator.New(validator.WithRequiredStructEnabled())

// parseTasks decodes a task file and returns its entries with every
// dependency ordered before its dependents.
func parseTasks(data []byte) ([]*taskEntry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("task file is empty")
	}
	var f taskFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	for _, e := range f.Tasks {
		if e != nil {
			e.Key = strings.TrimSpace(e.Key)
		}
	}
	if err := taskValidate.Struct(&f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("invalid tasks: %s failed %s", fe.Namespace(), fe.Tag())
		}
		return nil, fmt.Errorf("invalid tasks: %w", err)
	}

	g := graph.New()
	byKey := make(map[string]*taskEntry, len(f.Tasks))
	for _, e := range f.Tasks {
		if err := g.Add(e.Key, e.DependsOn...); err != nil {
			return nil, fmt.Errorf("invalid tasks: %w", err)
		}
		byKey[e.Key] = e
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tasks: %w", err)
	}
	keys, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("invalid tasks: %w", err)
	}

	ordered := make([]*taskEntry, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, byKey[k])
	}
	return ordered, nil
}

func loadTasks(path string) ([]*taskEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks %s: %w", path, err)
	}
	entries, err := parseTasks(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// taskCreator is the slice of the queue submitTasks needs.
type taskCreator interface {
	Create(spec queue.Spec) *models.Task
}

// submitTasks creates the entries in order and returns queue IDs by key.
func submitTasks(q taskCreator, entries []*taskEntry) map[string]string {
	ids := make(map[string]string, len(entries))
	for _, e := range entries {
		deps := make([]string, 0, len(e.DependsOn))
		for _, k := range e.DependsOn {
			deps = append(deps, ids[k])
		}
		task := q.Create(queue.Spec{
			Title:             e.Title,
			Description:       e.Description,
			RequiredSkills:    e.Skills,
			Priority:          e.Priority,
			Dependencies:      deps,
			MaxRetries:        e.MaxRetries,
			EstimatedDuration: e.Estimate,
			Metadata:          e.Metadata,
		})
		ids[e.Key] = task.ID
	}
	return ids
}
