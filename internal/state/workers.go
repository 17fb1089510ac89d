package state

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// ErrInvalidRoster wraps roster file validation failures.
var ErrInvalidRoster = fmt.Errorf("roster %w", models.ErrValidation)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Roster is the YAML document accepted by ImportRoster.
//
//	workers:
//	  - id: ada
//	    name: Ada
//	    role: backend engineer
//	    skills: [go, sql]
type Roster struct {
	Workers []*models.Worker `yaml:"workers" validate:"required,min=1,dive,required"`
}

// LoadWorkers returns the persisted roster in saved order.
func (db *DB) LoadWorkers(ctx context.Context) ([]*models.Worker, error) {
	rows, err := db.query(ctx, `
		SELECT id, name, role, skills, status, workload, metrics,
		       instructions, command, args, work_dir, env
		FROM workers ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("load workers: %w", err)
	}
	defer rows.Close()

	var out []*models.Worker
	for rows.Next() {
		var w models.Worker
		var skills, metrics, args, env string
		if err := rows.Scan(&w.ID, &w.Name, &w.Role, &skills, &w.Status, &w.Workload, &metrics,
			&w.Instructions, &w.Command, &args, &w.WorkDir, &env); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		if err := decodeJSON(skills, &w.Skills); err != nil {
			return nil, fmt.Errorf("worker %s skills: %w", w.ID, err)
		}
		if err := decodeJSON(metrics, &w.Metrics); err != nil {
			return nil, fmt.Errorf("worker %s metrics: %w", w.ID, err)
		}
		if err := decodeJSON(args, &w.Args); err != nil {
			return nil, fmt.Errorf("worker %s args: %w", w.ID, err)
		}
		if err := decodeJSON(env, &w.Env); err != nil {
			return nil, fmt.Errorf("worker %s env: %w", w.ID, err)
		}
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load workers: %w", err)
	}
	return out, nil
}

// SaveWorkers replaces the persisted roster with workers.
func (db *DB) SaveWorkers(ctx context.Context, workers []*models.Worker) error {
	now := formatTime(time.Now())
	return db.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM workers"); err != nil {
			return fmt.Errorf("clear workers: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO workers (id, position, name, role, skills, status, workload, metrics,
			                     instructions, command, args, work_dir, env, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare worker insert: %w", err)
		}
		defer stmt.Close()

		for i, w := range workers {
			if w == nil {
				continue
			}
			_, err := stmt.ExecContext(ctx, w.ID, i, w.Name, w.Role, encodeJSON(w.Skills, "[]"),
				string(w.Status), w.Workload, encodeJSON(w.Metrics, "{}"), w.Instructions,
				w.Command, encodeJSON(w.Args, "[]"), w.WorkDir, encodeJSON(w.Env, "{}"), now)
			if err != nil {
				return fmt.Errorf("save worker %s: %w", w.ID, err)
			}
		}
		return nil
	})
}

// ParseRoster decodes and validates a roster document. Worker IDs must be unique.
func ParseRoster(data []byte) ([]*models.Worker, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidRoster)
	}
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	if err := validate.Struct(&r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s failed %s", ErrInvalidRoster, verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoster, err)
	}

	seen := make(map[string]bool, len(r.Workers))
	for _, w := range r.Workers {
		w.ID = strings.TrimSpace(w.ID)
		if seen[w.ID] {
			return nil, fmt.Errorf("%w: duplicate worker id %q", ErrInvalidRoster, w.ID)
		}
		seen[w.ID] = true
		if w.Name == "" {
			w.Name = w.ID
		}
	}
	return r.Workers, nil
}

// ImportRoster reads a roster file.
func ImportRoster(path string) ([]*models.Worker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	workers, err := ParseRoster(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return workers, nil
}

func encodeJSON(v any, empty string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return empty
	}
	return string(data)
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
