// Package governancepolicy implements the governance-policy deterministic
// local gate: it checks that every required status context named by the
// spec corresponds to a present workflow file declaring a matching name.
// The "is this context satisfied" predicate is evaluated by an embedded
// OPA query.
package governancepolicy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
)

// CheckName is the aggregated check's own published name. governance-
// policy never flags it, even if a spec author lists it among
// required_status_contexts.
const CheckName = "cogni/review"

const policyModule = `
package governance

default satisfied = false

satisfied {
	some i
	input.workflow_names[i] == input.required
}
`

// Gate reads required_status_contexts off the canonical context, which
// the orchestrator populates from the spec root before any gate runs
// (the field lives outside any gate's own `with` block, and the gate
// registry is a closed mapping built once at process start). The policy
// query is prepared once here, not per delivery.
type Gate struct {
	query   rego.PreparedEvalQuery
	prepErr error
}

func New() *Gate {
	query, err := rego.New(
		rego.Query("data.governance.satisfied"),
		rego.Module("governance.rego", policyModule),
	).PrepareForEval(context.Background())
	return &Gate{query: query, prepErr: err}
}

func (g *Gate) Run(ctx context.Context, cc *canonical.Context, cfg gateregistry.GateConfig, log canonical.Logger) gateregistry.Outcome {
	start := time.Now()

	if g.prepErr != nil {
		return gateregistry.Outcome{
			Status:        gateregistry.StatusNeutral,
			NeutralReason: "internal_error",
			Stats:         map[string]any{"error": g.prepErr.Error()},
			DurationMS:    time.Since(start).Milliseconds(),
		}
	}

	if !cc.HasCapability("list_changed_files") {
		return gateregistry.Outcome{
			Status:        gateregistry.StatusNeutral,
			NeutralReason: "capability_unavailable",
			DurationMS:    time.Since(start).Milliseconds(),
		}
	}

	workflowNames, err := collectWorkflowNames(ctx, cc)
	if err != nil {
		// API errors degrade to fail at the affected context, not
		// neutral, so the outcome stays deterministic where definable.
		var violations []gateregistry.Violation
		for _, required := range cc.RequiredStatusContexts {
			if required == CheckName {
				continue
			}
			violations = append(violations, gateregistry.Violation{
				Code:    "governance_context_unverifiable",
				Message: fmt.Sprintf("could not verify required status context %q: %v", required, err),
				Level:   "error",
			})
		}
		return gateregistry.Outcome{
			Status:     gateregistry.StatusFail,
			Violations: violations,
			Stats:      map[string]any{"error": err.Error()},
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	var violations []gateregistry.Violation
	for _, required := range cc.RequiredStatusContexts {
		if required == CheckName {
			continue // self-exemption
		}
		satisfied, err := evalSatisfied(ctx, g.query, workflowNames, required)
		if err != nil || !satisfied {
			violations = append(violations, gateregistry.Violation{
				Code:    "missing_status_context",
				Message: fmt.Sprintf("required status context %q has no matching workflow", required),
				Level:   "error",
			})
		}
	}

	status := gateregistry.StatusPass
	if len(violations) > 0 {
		status = gateregistry.StatusFail
	}

	return gateregistry.Outcome{
		Status:     status,
		Violations: violations,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

func evalSatisfied(ctx context.Context, query rego.PreparedEvalQuery, workflowNames []string, required string) (bool, error) {
	results, err := query.Eval(ctx, rego.EvalInput(map[string]any{
		"workflow_names": workflowNames,
		"required":       required,
	}))
	if err != nil {
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	satisfied, _ := results[0].Expressions[0].Value.(bool)
	return satisfied, nil
}

// collectWorkflowNames scans changed workflow YAML files for a top-level
// `name:` key. A minimal, dependency-free scan is sufficient: this gate
// only needs the declared name, not the full workflow schema.
func collectWorkflowNames(ctx context.Context, cc *canonical.Context) ([]string, error) {
	it, err := cc.Capabilities.ListChangedFiles(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for {
		fc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if !strings.HasPrefix(fc.Path, ".github/workflows/") {
			continue
		}
		if !cc.HasCapability("get_file") {
			continue
		}
		content, err := cc.Capabilities.GetFile(ctx, fc.Path, cc.Head.SHA)
		if err != nil {
			continue
		}
		if name := extractName(string(content)); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func extractName(yamlDoc string) string {
	for _, line := range strings.Split(yamlDoc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "name:") {
			return strings.Trim(strings.TrimSpace(strings.TrimPrefix(trimmed, "name:")), `"'`)
		}
	}
	return ""
}
