// Package ruleloader loads and validates a single rule file declared by
// an ai-rule gate instance. Its YAML-parse-then-validate shape mirrors
// specloader, down to compiling the same kind of JSON Schema once and
// validating a decoded document against it, generalized here to the
// rule document shape instead of the repo spec's.
package ruleloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/criteria"
)

const DefaultRulesDir = ".cogni/rules"

// Reason enumerates the documented failure reasons for Load.
type Reason string

const (
	ReasonNoRuleFile Reason = "no_rule_file"
	ReasonMissing    Reason = "rule_missing"
	ReasonInvalid    Reason = "rule_invalid"
)

// Evaluation is one {metric_id: statement} entry, order-preserving.
type Evaluation struct {
	MetricID  string
	Statement string
}

// Rule is a parsed, validated .cogni/rules/<name>.yaml document.
type Rule struct {
	ID            string
	SchemaVersion string
	WorkflowID    string
	Evaluations   []Evaluation
	Criteria      criteria.Criteria
	Capabilities  map[string]bool
	Budgets       map[string]int
}

// Result is the outcome of a single Load call.
type Result struct {
	OK         bool
	Rule       Rule
	Reason     Reason
	Diagnostic string
}

type yamlComparator struct {
	Metric string   `yaml:"metric"`
	GTE    *float64 `yaml:"gte"`
	GT     *float64 `yaml:"gt"`
	LTE    *float64 `yaml:"lte"`
	LT     *float64 `yaml:"lt"`
	EQ     *float64 `yaml:"eq"`
}

type yamlRule struct {
	ID            string                      `yaml:"id"`
	SchemaVersion string                      `yaml:"schema_version"`
	WorkflowID    string                      `yaml:"workflow_id"`
	Evaluations   []map[string]string         `yaml:"evaluations"`
	SuccessCriteria struct {
		Require                 []yamlComparator `yaml:"require"`
		AnyOf                   []yamlComparator `yaml:"any_of"`
		NeutralOnMissingMetrics bool             `yaml:"neutral_on_missing_metrics"`
	} `yaml:"success_criteria"`
	XCapabilities []string       `yaml:"x_capabilities"`
	XBudgets      map[string]int `yaml:"x_budgets"`
}

// Load fetches <rulesDir>/<ruleFile> via cc and validates it. Each
// ai-rule gate instance loads exactly one rule, so rule-id uniqueness
// within a delivery holds trivially here; gate instances sharing a rule
// file are disambiguated upstream by their spec-derived gate ids.
func Load(ctx context.Context, cc *canonical.Context, rulesDir, ruleFile string) Result {
	if ruleFile == "" {
		return Result{OK: false, Reason: ReasonNoRuleFile, Diagnostic: "gate config missing rule_file"}
	}
	if rulesDir == "" {
		rulesDir = DefaultRulesDir
	}
	if !cc.HasCapability("get_file") {
		return Result{OK: false, Reason: ReasonMissing, Diagnostic: "host does not support get_file"}
	}

	fullPath := path.Join(rulesDir, ruleFile)
	raw, err := cc.Capabilities.GetFile(ctx, fullPath, cc.Head.SHA)
	if err != nil {
		return Result{OK: false, Reason: ReasonMissing, Diagnostic: err.Error()}
	}

	if diag := validateSchema(raw); diag != "" {
		return Result{OK: false, Reason: ReasonInvalid, Diagnostic: diag}
	}

	var yr yamlRule
	if err := yaml.Unmarshal(raw, &yr); err != nil {
		return Result{OK: false, Reason: ReasonInvalid, Diagnostic: err.Error()}
	}

	rule, err := toRule(yr, ruleFile)
	if err != nil {
		return Result{OK: false, Reason: ReasonInvalid, Diagnostic: err.Error()}
	}

	if err := criteria.Validate(rule.Criteria); err != nil {
		return Result{OK: false, Reason: ReasonInvalid, Diagnostic: err.Error()}
	}

	return Result{OK: true, Rule: rule}
}

func toRule(yr yamlRule, ruleFile string) (Rule, error) {
	id := yr.ID
	if id == "" {
		id = strings.TrimSuffix(path.Base(ruleFile), path.Ext(ruleFile))
	}
	if yr.WorkflowID == "" {
		return Rule{}, fmt.Errorf("ruleloader: workflow_id is required")
	}

	var evals []Evaluation
	for _, entry := range yr.Evaluations {
		for k, v := range entry {
			evals = append(evals, Evaluation{MetricID: k, Statement: v})
		}
	}

	toComparators := func(in []yamlComparator) []criteria.Comparator {
		out := make([]criteria.Comparator, 0, len(in))
		for _, c := range in {
			out = append(out, criteria.Comparator{
				Metric: c.Metric, GTE: c.GTE, GT: c.GT, LTE: c.LTE, LT: c.LT, EQ: c.EQ,
			})
		}
		return out
	}

	caps := make(map[string]bool, len(yr.XCapabilities))
	for _, c := range yr.XCapabilities {
		caps[c] = true
	}

	return Rule{
		ID:            id,
		SchemaVersion: yr.SchemaVersion,
		WorkflowID:    yr.WorkflowID,
		Evaluations:   evals,
		Criteria: criteria.Criteria{
			Require:                 toComparators(yr.SuccessCriteria.Require),
			AnyOf:                   toComparators(yr.SuccessCriteria.AnyOf),
			NeutralOnMissingMetrics: yr.SuccessCriteria.NeutralOnMissingMetrics,
		},
		Capabilities: caps,
		Budgets:      yr.XBudgets,
	}, nil
}

var (
	ruleSchemaOnce sync.Once
	ruleSchema     *jsonschema.Schema
	ruleSchemaErr  error
)

const ruleSchemaDocument = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["workflow_id"],
  "properties": {
    "id": {"type": "string"},
    "schema_version": {"type": "string"},
    "workflow_id": {"type": "string"},
    "evaluations": {
      "type": "array",
      "items": {"type": "object", "minProperties": 1, "additionalProperties": {"type": "string"}}
    },
    "success_criteria": {
      "type": "object",
      "properties": {
        "require": {"type": "array", "items": {"$ref": "#/$defs/comparator"}},
        "any_of": {"type": "array", "items": {"$ref": "#/$defs/comparator"}},
        "neutral_on_missing_metrics": {"type": "boolean"}
      }
    },
    "x_capabilities": {"type": "array", "items": {"type": "string"}},
    "x_budgets": {"type": "object", "additionalProperties": {"type": "integer"}}
  },
  "$defs": {
    "comparator": {
      "type": "object",
      "required": ["metric"],
      "properties": {
        "metric": {"type": "string"},
        "gte": {"type": "number"},
        "gt": {"type": "number"},
        "lte": {"type": "number"},
        "lt": {"type": "number"},
        "eq": {"type": "number"}
      }
    }
  }
}`

func compileRuleSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(ruleSchemaDocument)))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("rule.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("rule.json")
}

// validateSchema checks raw against the compiled rule schema before it is
// even unmarshaled into yamlRule, the same order specloader validates in.
// The schema is compiled once per process, lazily, since ruleloader has
// no constructor to do it eagerly in the way specloader.New does.
func validateSchema(raw []byte) string {
	ruleSchemaOnce.Do(func() {
		ruleSchema, ruleSchemaErr = compileRuleSchema()
	})
	if ruleSchemaErr != nil {
		return ruleSchemaErr.Error()
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err.Error()
	}
	jsonBytes, err := json.Marshal(toJSONCompatible(generic))
	if err != nil {
		return err.Error()
	}
	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return err.Error()
	}
	if err := ruleSchema.Validate(doc); err != nil {
		return err.Error()
	}
	return ""
}

// toJSONCompatible normalizes yaml.v3's native map[any]any decoding into
// map[string]any so encoding/json (and, downstream, jsonschema) can walk
// it; mirrors specloader's identically-named helper for the spec document.
func toJSONCompatible(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = toJSONCompatible(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = toJSONCompatible(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = toJSONCompatible(val)
		}
		return out
	default:
		return x
	}
}
