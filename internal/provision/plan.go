package provision

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Step is one external integration call in a provisioning plan. Path is
// relative to the adapter base URL; Extract, when set, is a JMESPath
// expression applied to the response body to pick the checkpoint value.
type Step struct {
	Name      string         `json:"name" yaml:"name"`
	Path      string         `json:"path" yaml:"path"`
	Method    string         `json:"method,omitempty" yaml:"method,omitempty"`
	TimeoutMS int            `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Extract   string         `json:"extract,omitempty" yaml:"extract,omitempty"`
	Payload   map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Plan is an ordered list of steps executed by the actor. Order matters:
// later steps may assume earlier ones completed.
type Plan struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %q has no steps", p.Name)
	}
	seen := map[string]bool{}
	for _, s := range p.Steps {
		if s.Name == "" || s.Path == "" {
			return fmt.Errorf("plan %q: step needs name and path", p.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("plan %q: duplicate step %q", p.Name, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// DefaultPlan is the standard tenant bootstrap sequence.
func DefaultPlan() Plan {
	return Plan{
		Name: "standard",
		Steps: []Step{
			{Name: "directory", Path: "/v1/directory/spaces", Extract: "space_id"},
			{Name: "media-library", Path: "/v1/media/libraries", Extract: "library_id"},
			{Name: "webhooks", Path: "/v1/webhooks/subscriptions"},
			{Name: "notifications", Path: "/v1/notify/channels", Extract: "channel_id"},
		},
	}
}

// PlanRegistry holds named plans loaded from disk, with the built-in
// standard plan always available.
type PlanRegistry struct {
	plans map[string]Plan
}

// LoadPlans walks dir for .yaml/.yml/.json plan files. A missing or empty
// dir yields a registry containing only the default plan.
func LoadPlans(dir string, log *zap.SugaredLogger) (*PlanRegistry, error) {
	reg := &PlanRegistry{plans: map[string]Plan{}}
	def := DefaultPlan()
	reg.plans[def.Name] = def
	if dir == "" {
		return reg, nil
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var plan Plan
		if ext == ".json" {
			if err := json.Unmarshal(b, &plan); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(b, &plan); err != nil {
				return fmt.Errorf("%s: yaml parse: %w", path, err)
			}
		}
		if plan.Name == "" {
			plan.Name = strings.TrimSuffix(d.Name(), ext)
		}
		if err := plan.Validate(); err != nil {
			return err
		}
		reg.plans[plan.Name] = plan
		if log != nil {
			log.Infow("plan loaded", "name", plan.Name, "steps", len(plan.Steps))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Get resolves a plan by name; the empty name means the default plan.
func (r *PlanRegistry) Get(name string) (Plan, bool) {
	if name == "" {
		name = DefaultPlan().Name
	}
	p, ok := r.plans[name]
	return p, ok
}
