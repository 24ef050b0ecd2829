// Package artifact implements the two external-artifact gates:
// artifact.sarif and artifact.jsonpath. Both share one resolution,
// fail-policy, and truncation pipeline; only the parse step differs.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
)

const maxArtifactBytes = 25 * 1024 * 1024
const defaultMaxFindings = 1000

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/home/runner/work/") {
		// layout is /home/runner/work/<repo>/<repo>/<rest>; strip both
		// repeated repo segments.
		rest := strings.TrimPrefix(p, "/home/runner/work/")
		if idx := strings.Index(rest, "/"); idx >= 0 {
			second := rest[idx+1:]
			if secondIdx := strings.Index(second, "/"); secondIdx >= 0 {
				return second[secondIdx+1:]
			}
		}
		return rest
	}
	if strings.HasPrefix(p, "/github/workspace/") {
		return strings.TrimPrefix(p, "/github/workspace/")
	}
	return p
}

func normalizeLevel(level any) string {
	switch v := level.(type) {
	case string:
		switch v {
		case "error":
			return "error"
		case "warning":
			return "warning"
		case "note":
			return "info"
		default:
			return "info"
		}
	case float64:
		switch int(v) {
		case 2:
			return "error"
		case 1:
			return "warning"
		case 0:
			return "info"
		default:
			return "info"
		}
	default:
		return "info"
	}
}

// FailOn is the configured fail policy.
type FailOn string

const (
	FailOnErrors          FailOn = "errors"
	FailOnWarningsOrErrors FailOn = "warnings_or_errors"
	FailOnAny             FailOn = "any"
	FailOnNone            FailOn = "none"
)

func applyFailPolicy(violations []gateregistry.Violation, policy FailOn) gateregistry.Status {
	if policy == "" {
		policy = FailOnErrors
	}
	hasError, hasWarning := false, false
	for _, v := range violations {
		switch v.Level {
		case "error":
			hasError = true
		case "warning":
			hasWarning = true
		}
	}
	switch policy {
	case FailOnNone:
		return gateregistry.StatusPass
	case FailOnAny:
		if len(violations) > 0 {
			return gateregistry.StatusFail
		}
	case FailOnWarningsOrErrors:
		if hasError || hasWarning {
			return gateregistry.StatusFail
		}
	default: // errors
		if hasError {
			return gateregistry.StatusFail
		}
	}
	return gateregistry.StatusPass
}

func sortViolations(vs []gateregistry.Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Path != vs[j].Path {
			return vs[i].Path < vs[j].Path
		}
		if vs[i].Line != vs[j].Line {
			return vs[i].Line < vs[j].Line
		}
		return vs[i].Code < vs[j].Code
	})
}

func truncate(vs []gateregistry.Violation, maxFindings int) ([]gateregistry.Violation, int) {
	if maxFindings <= 0 {
		maxFindings = defaultMaxFindings
	}
	if len(vs) <= maxFindings {
		return vs, 0
	}
	truncatedCount := len(vs) - maxFindings
	kept := append([]gateregistry.Violation{}, vs[:maxFindings]...)
	kept = append(kept, gateregistry.Violation{
		Code:    "findings_truncated",
		Message: fmt.Sprintf("%d additional finding(s) omitted", truncatedCount),
		Level:   "info",
	})
	return kept, truncatedCount
}

func resolveArtifact(ctx context.Context, cc *canonical.Context, runID, artifactPath string) (io.ReadCloser, int64, error) {
	if !cc.HasCapability("resolve_artifact") {
		return nil, 0, errCapabilityUnavailable
	}
	return cc.Capabilities.ResolveArtifact(ctx, runID, cc.Head.SHA, artifactPath)
}

var errCapabilityUnavailable = fmt.Errorf("artifact: resolve_artifact capability unavailable")

// classifyResolveErr distinguishes a deadline hit from every other
// resolution failure (host API error, missing run, deleted artifact):
// only the former gets its own neutral reason.
func classifyResolveErr(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "missing_artifact"
}

func neutral(reason string, start time.Time) gateregistry.Outcome {
	return gateregistry.Outcome{Status: gateregistry.StatusNeutral, NeutralReason: reason, DurationMS: time.Since(start).Milliseconds()}
}

// --- SARIF gate ---

type sarifDoc struct {
	Version string `json:"version"`
	Runs    []struct {
		Results []sarifResult `json:"results"`
	} `json:"runs"`
}

type sarifResult struct {
	RuleID  string `json:"ruleId"`
	Level   string `json:"level"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	Locations []struct {
		PhysicalLocation struct {
			ArtifactLocation struct {
				URI string `json:"uri"`
			} `json:"artifactLocation"`
			Region struct {
				StartLine   int `json:"startLine"`
				StartColumn int `json:"startColumn"`
			} `json:"region"`
		} `json:"physicalLocation"`
	} `json:"locations"`
}

// SarifGate implements gateregistry.Gate for "artifact.sarif".
type SarifGate struct{}

func NewSarif() *SarifGate { return &SarifGate{} }

func (g *SarifGate) Run(ctx context.Context, cc *canonical.Context, cfg gateregistry.GateConfig, log canonical.Logger) gateregistry.Outcome {
	start := time.Now()

	runID, _ := cfg["run_id"].(string)
	artifactPath, _ := cfg["artifact_path"].(string)
	failOn, _ := cfg["fail_on"].(string)
	maxFindings := intFromConfig(cfg, "max_findings", defaultMaxFindings)

	rc, size, err := resolveArtifact(ctx, cc, runID, artifactPath)
	if err != nil {
		if err == errCapabilityUnavailable {
			return neutral("capability_unavailable", start)
		}
		return neutral(classifyResolveErr(err), start)
	}
	defer rc.Close()
	if size > maxArtifactBytes {
		return neutral("artifact_too_large", start)
	}

	raw, err := io.ReadAll(io.LimitReader(rc, maxArtifactBytes+1))
	if err != nil {
		return neutral(classifyResolveErr(err), start)
	}
	if len(raw) > maxArtifactBytes {
		return neutral("artifact_too_large", start)
	}

	var doc sarifDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return neutral("invalid_format", start)
	}

	var violations []gateregistry.Violation
	for _, run := range doc.Runs {
		for _, res := range run.Results {
			level := normalizeLevel(res.Level)
			if len(res.Locations) == 0 {
				violations = append(violations, gateregistry.Violation{
					Code: res.RuleID, Message: res.Message.Text, Level: level,
				})
				continue
			}
			for _, loc := range res.Locations {
				violations = append(violations, gateregistry.Violation{
					Code:    res.RuleID,
					Message: res.Message.Text,
					Level:   level,
					Path:    normalizePath(loc.PhysicalLocation.ArtifactLocation.URI),
					Line:    loc.PhysicalLocation.Region.StartLine,
					Column:  loc.PhysicalLocation.Region.StartColumn,
				})
			}
		}
	}

	sortViolations(violations)
	kept, truncatedCount := truncate(violations, maxFindings)

	status := applyFailPolicy(kept, FailOn(failOn))

	return gateregistry.Outcome{
		Status:     status,
		Violations: kept,
		Stats: map[string]any{
			"truncated":       truncatedCount > 0,
			"truncated_count": truncatedCount,
		},
		DurationMS: time.Since(start).Milliseconds(),
	}
}

// --- JSONPath gate ---

// FieldMapping names the JSONPath expressions (relative to each matched
// result node) used to extract one violation's fields.
type FieldMapping struct {
	File     string
	Line     string
	Column   string
	Code     string
	Message  string
	Severity string
}

// JSONPathGate implements gateregistry.Gate for "artifact.jsonpath".
type JSONPathGate struct{}

func NewJSONPath() *JSONPathGate { return &JSONPathGate{} }

func (g *JSONPathGate) Run(ctx context.Context, cc *canonical.Context, cfg gateregistry.GateConfig, log canonical.Logger) gateregistry.Outcome {
	start := time.Now()

	runID, _ := cfg["run_id"].(string)
	artifactPath, _ := cfg["artifact_path"].(string)
	failOn, _ := cfg["fail_on"].(string)
	maxFindings := intFromConfig(cfg, "max_findings", defaultMaxFindings)
	rootPath, _ := cfg["root_path"].(string)
	if rootPath == "" {
		rootPath = "$[*]"
	}
	mapping := mappingFromConfig(cfg)
	severityMap, _ := cfg["severity_map"].(map[string]any)

	rc, size, err := resolveArtifact(ctx, cc, runID, artifactPath)
	if err != nil {
		if err == errCapabilityUnavailable {
			return neutral("capability_unavailable", start)
		}
		return neutral(classifyResolveErr(err), start)
	}
	defer rc.Close()
	if size > maxArtifactBytes {
		return neutral("artifact_too_large", start)
	}

	raw, err := io.ReadAll(io.LimitReader(rc, maxArtifactBytes+1))
	if err != nil {
		return neutral(classifyResolveErr(err), start)
	}
	if len(raw) > maxArtifactBytes {
		return neutral("artifact_too_large", start)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return neutral("invalid_format", start)
	}

	nodes, err := jsonpath.Get(rootPath, doc)
	if err != nil {
		return neutral("invalid_format", start)
	}
	items, ok := nodes.([]any)
	if !ok {
		items = []any{nodes}
	}

	var violations []gateregistry.Violation
	for _, item := range items {
		level := mappedSeverity(item, mapping.Severity, severityMap)
		violations = append(violations, gateregistry.Violation{
			Code:    stringField(item, mapping.Code),
			Message: stringField(item, mapping.Message),
			Path:    normalizePath(stringField(item, mapping.File)),
			Line:    intField(item, mapping.Line),
			Column:  intField(item, mapping.Column),
			Level:   level,
		})
	}

	sortViolations(violations)
	kept, truncatedCount := truncate(violations, maxFindings)
	status := applyFailPolicy(kept, FailOn(failOn))

	return gateregistry.Outcome{
		Status:     status,
		Violations: kept,
		Stats: map[string]any{
			"truncated":       truncatedCount > 0,
			"truncated_count": truncatedCount,
		},
		DurationMS: time.Since(start).Milliseconds(),
	}
}

func mappingFromConfig(cfg gateregistry.GateConfig) FieldMapping {
	raw, _ := cfg["field_mapping"].(map[string]any)
	get := func(k, def string) string {
		if v, ok := raw[k].(string); ok {
			return v
		}
		return def
	}
	return FieldMapping{
		File:     get("file", "$.file"),
		Line:     get("line", "$.line"),
		Column:   get("column", "$.column"),
		Code:     get("code", "$.code"),
		Message:  get("message", "$.message"),
		Severity: get("severity", "$.severity"),
	}
}

func stringField(item any, path string) string {
	v, err := jsonpath.Get(path, item)
	if err != nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func intField(item any, path string) int {
	v, err := jsonpath.Get(path, item)
	if err != nil {
		return 0
	}
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

func mappedSeverity(item any, path string, severityMap map[string]any) string {
	v, err := jsonpath.Get(path, item)
	if err != nil {
		return "info"
	}
	s := fmt.Sprint(v)
	if severityMap != nil {
		if mapped, ok := severityMap[s].(string); ok {
			s = mapped
		}
	}
	switch s {
	case "error":
		return "error"
	case "warning":
		return "warning"
	case "note", "info":
		return "info"
	default:
		return normalizeLevel(s)
	}
}

func intFromConfig(cfg gateregistry.GateConfig, key string, def int) int {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
