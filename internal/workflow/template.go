package workflow

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/pkg/models"
)

//go:embed templates/*.yaml
var builtinFS embed.FS

// ErrInvalidTemplate wraps every template validation failure.
var ErrInvalidTemplate = fmt.Errorf("template %w", models.ErrValidation)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseTemplate decodes and validates a YAML template.
func ParseTemplate(data []byte) (*models.WorkflowTemplate, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidTemplate)
	}
	var t models.WorkflowTemplate
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if err := ValidateTemplate(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTemplateFile reads one template file.
func LoadTemplateFile(path string) (*models.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	t, err := ParseTemplate(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadTemplateDir reads every *.yaml and *.yml file in dir, sorted by name.
func LoadTemplateDir(dir string) ([]*models.WorkflowTemplate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*models.WorkflowTemplate, 0, len(names))
	for _, name := range names {
		t, err := LoadTemplateFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// BuiltinTemplates returns the embedded feature-development and bug-fix templates.
func BuiltinTemplates() []*models.WorkflowTemplate {
	var out []*models.WorkflowTemplate
	err := fs.WalkDir(builtinFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return err
		}
		t, err := ParseTemplate(data)
		if err != nil {
			return fmt.Errorf("builtin %s: %w", path, err)
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		panic(err)
	}
	return out
}

// ValidateTemplate checks required fields, unique step names, unknown
// dependencies and cycles.
func ValidateTemplate(t *models.WorkflowTemplate) error {
	if t == nil {
		return fmt.Errorf("%w: nil template", ErrInvalidTemplate)
	}
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", ErrInvalidTemplate, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if _, err := stepGraph(t.Steps); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, t.ID, err)
	}
	return nil
}

func stepGraph(steps []models.StepBlueprint) (*graph.DependencyGraph, error) {
	g := graph.New()
	for _, s := range steps {
		if err := g.Add(s.Name, s.DependsOn...); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
