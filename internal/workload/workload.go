// Package workload loads declarative task sets from YAML files and writes
// session summaries back to disk.
package workload

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msageha/agentflow/internal/model"
	"github.com/msageha/agentflow/internal/scheduler"
	"github.com/msageha/agentflow/internal/session"
)

// SchemaVersion is the workload file format version this build reads.
const SchemaVersion = 1

// File is the on-disk workload format.
type File struct {
	SchemaVersion int         `yaml:"schema_version"`
	Project       ProjectSpec `yaml:"project"`
	Defaults      Defaults    `yaml:"defaults,omitempty"`
	Tasks         []TaskSpec  `yaml:"tasks"`
}

type ProjectSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Defaults apply to task specs that leave the matching field empty.
type Defaults struct {
	Role     string `yaml:"role,omitempty"`
	Priority string `yaml:"priority,omitempty"`
}

type TaskSpec struct {
	ID          string         `yaml:"id,omitempty"`
	Title       string         `yaml:"title"`
	Description string         `yaml:"description,omitempty"`
	Role        string         `yaml:"role,omitempty"`
	Priority    string         `yaml:"priority,omitempty"`
	DependsOn   []string       `yaml:"depends_on,omitempty"`
	Deadline    string         `yaml:"deadline,omitempty"` // RFC3339
	Tags        []string       `yaml:"tags,omitempty"`
	Context     map[string]any `yaml:"context,omitempty"`
}

// Load reads and structurally validates a workload file. Graph validation
// happens in Build.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workload: %w", err)
	}
	if f.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported schema_version %d (want %d)", f.SchemaVersion, SchemaVersion)
	}
	if f.Project.Name == "" {
		return nil, fmt.Errorf("workload is missing project.name")
	}
	return &f, nil
}

// Build turns the file into scheduler-ready tasks. IDs are generated when
// absent; duplicate IDs, unknown roles, missing titles, and dependency
// graph defects (self references, unknown refs, cycles) are build errors.
func (f *File) Build() ([]*model.Task, error) {
	tasks := make([]*model.Task, 0, len(f.Tasks))
	seen := make(map[string]bool, len(f.Tasks))

	for i, spec := range f.Tasks {
		if spec.Title == "" {
			return nil, fmt.Errorf("tasks[%d]: title is required", i)
		}

		roleName := spec.Role
		if roleName == "" {
			roleName = f.Defaults.Role
		}
		role := model.Role(roleName)
		if !model.KnownRole(role) {
			return nil, fmt.Errorf("tasks[%d] (%s): unknown role %q", i, spec.Title, roleName)
		}

		priorityName := spec.Priority
		if priorityName == "" {
			priorityName = f.Defaults.Priority
		}

		opts := []model.TaskOption{
			model.WithDescription(spec.Description),
			model.WithPriority(model.ParsePriority(priorityName)),
			model.WithTags(spec.Tags...),
		}
		if spec.ID != "" {
			opts = append(opts, model.WithID(spec.ID))
		}
		if spec.Deadline != "" {
			deadline, err := time.Parse(time.RFC3339, spec.Deadline)
			if err != nil {
				return nil, fmt.Errorf("tasks[%d] (%s): bad deadline: %w", i, spec.Title, err)
			}
			opts = append(opts, model.WithDeadline(deadline))
		}
		if spec.Context != nil {
			opts = append(opts, model.WithContext(spec.Context))
		}

		t := model.NewTask(spec.Title, role, opts...)
		// Dependencies added raw, not via the deduplicating option: a self
		// reference in the file must surface as a validation error below,
		// not be silently dropped.
		t.DependsOn = append([]string(nil), spec.DependsOn...)

		if seen[t.ID] {
			return nil, fmt.Errorf("tasks[%d] (%s): duplicate id %q", i, spec.Title, t.ID)
		}
		seen[t.ID] = true
		tasks = append(tasks, t)
	}

	ids := make([]string, 0, len(tasks))
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
		deps[t.ID] = t.DependsOn
	}
	if _, err := scheduler.ValidateGraph(ids, deps); err != nil {
		return nil, fmt.Errorf("workload graph: %w", err)
	}
	return tasks, nil
}

// WriteSummary writes a session summary as YAML with an atomic
// temp-and-rename so a crash never leaves a half-written report.
func WriteSummary(path string, summary *session.Summary) error {
	content, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return atomicWrite(path, content)
}

func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".agentflow-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
