// Package workflow defines the step plans executed by each workflow type.
//
// Plans are data, not code: adding a workflow type means adding one
// catalog entry, and operators can override the built-in catalog with a
// YAML file.
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"gopkg.in/yaml.v3"
)

// StepDescriptor describes one planned step before it is materialized
// into a Step row for a concrete session.
type StepDescriptor struct {
	Code  string               `yaml:"code"`
	Name  string               `yaml:"name"`
	Phase domain.SessionStatus `yaml:"phase"`
}

// Catalog maps workflow types to their ordered step plans.
type Catalog struct {
	plans map[domain.WorkflowType][]StepDescriptor
}

// DefaultCatalog returns the built-in step plans.
func DefaultCatalog() *Catalog {
	return &Catalog{plans: map[domain.WorkflowType][]StepDescriptor{
		domain.WorkflowDependencyMaintenance: {
			{Code: "analyze-dependencies", Name: "Analyze dependency graph", Phase: domain.StatusAnalyzing},
			{Code: "plan-upgrades", Name: "Plan dependency upgrades", Phase: domain.StatusPlanning},
			{Code: "apply-upgrades", Name: "Apply dependency upgrades", Phase: domain.StatusExecuting},
			{Code: "run-tests", Name: "Run project test suite", Phase: domain.StatusExecuting},
			{Code: "validate-build", Name: "Validate build", Phase: domain.StatusValidating},
		},
		domain.WorkflowTestGeneration: {
			{Code: "analyze-coverage", Name: "Analyze test coverage", Phase: domain.StatusAnalyzing},
			{Code: "plan-test-suite", Name: "Plan test suite additions", Phase: domain.StatusPlanning},
			{Code: "generate-tests", Name: "Generate tests", Phase: domain.StatusExecuting},
			{Code: "run-generated-tests", Name: "Run generated tests", Phase: domain.StatusExecuting},
			{Code: "validate-suite", Name: "Validate test suite", Phase: domain.StatusValidating},
		},
		domain.WorkflowDeployment: {
			{Code: "analyze-project", Name: "Analyze project layout", Phase: domain.StatusAnalyzing},
			{Code: "plan-image", Name: "Plan container image", Phase: domain.StatusPlanning},
			{Code: "build-image", Name: "Build container image", Phase: domain.StatusExecuting},
			{Code: "start-container", Name: "Start container", Phase: domain.StatusExecuting},
			{Code: "verify-deployment", Name: "Verify deployment", Phase: domain.StatusValidating},
		},
	}}
}

// LoadCatalog returns the default catalog with any plans from the YAML
// file at path layered on top. An empty path returns the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}

	var overrides map[string][]StepDescriptor
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}

	for name, plan := range overrides {
		wf := domain.WorkflowType(name)
		if !wf.Valid() {
			return nil, fmt.Errorf("plan catalog: unknown workflow type %q", name)
		}
		if err := validatePlan(plan); err != nil {
			return nil, fmt.Errorf("plan catalog: workflow %q: %w", name, err)
		}
		cat.plans[wf] = plan
	}

	return cat, nil
}

func validatePlan(plan []StepDescriptor) error {
	if len(plan) == 0 {
		return fmt.Errorf("plan must have at least one step")
	}
	seen := make(map[string]bool, len(plan))
	for i, d := range plan {
		if d.Code == "" || d.Name == "" {
			return fmt.Errorf("step %d: code and name are required", i+1)
		}
		if seen[d.Code] {
			return fmt.Errorf("duplicate step code %q", d.Code)
		}
		seen[d.Code] = true
		switch d.Phase {
		case domain.StatusAnalyzing, domain.StatusPlanning, domain.StatusExecuting, domain.StatusValidating:
		default:
			return fmt.Errorf("step %q: invalid phase %q", d.Code, d.Phase)
		}
	}
	return nil
}

// Plan returns the ordered step plan for a workflow type.
func (c *Catalog) Plan(wf domain.WorkflowType) ([]StepDescriptor, error) {
	plan, ok := c.plans[wf]
	if !ok {
		return nil, fmt.Errorf("%w: no plan for workflow type %q", domain.ErrValidation, wf)
	}
	return plan, nil
}

// Hash returns a stable digest of the plan's step codes, recorded in
// checkpoints so a resume can detect a plan that changed under it.
func Hash(plan []StepDescriptor) string {
	var b strings.Builder
	for _, d := range plan {
		b.WriteString(d.Code)
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// HashSteps digests the codes of materialized steps, in sequence order.
func HashSteps(steps []*domain.Step) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(s.Code)
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
