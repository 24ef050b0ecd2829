// Package specloader fetches .cogni/repo-spec.yaml through a canonical
// context, validates it against a JSON Schema, and memoizes the result
// keyed by (repo, ref, content hash).
package specloader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/metrics"
)

const SpecPath = ".cogni/repo-spec.yaml"

// Reason enumerates the documented failure reasons for Load.
type Reason string

const (
	ReasonMissing         Reason = "missing"
	ReasonInvalidYAML     Reason = "invalid_yaml"
	ReasonSchemaViolation Reason = "schema_violation"
	ReasonFetchError      Reason = "fetch_error"
)

// GateDecl is one entry in Specification.Gates.
type GateDecl struct {
	Type string         `yaml:"type" json:"type"`
	ID   string         `yaml:"id,omitempty" json:"id,omitempty"`
	With map[string]any `yaml:"with,omitempty" json:"with,omitempty"`
}

// Intent carries the free-form prompt inputs AI workflows consume.
type Intent struct {
	Name     string   `yaml:"name" json:"name"`
	Goals    []string `yaml:"goals" json:"goals"`
	NonGoals []string `yaml:"non_goals" json:"non_goals"`
}

// Specification is the parsed, validated .cogni/repo-spec.yaml document.
type Specification struct {
	SchemaVersion          string     `yaml:"schema_version" json:"schema_version"`
	Intent                 Intent     `yaml:"intent" json:"intent"`
	Gates                  []GateDecl `yaml:"gates" json:"gates"`
	RequiredStatusContexts []string   `yaml:"required_status_contexts,omitempty" json:"required_status_contexts,omitempty"`

	Hash string `yaml:"-" json:"-"`
}

// Result is the outcome of a single Load call.
type Result struct {
	OK         bool
	Spec       Specification
	Reason     Reason
	Diagnostic string
}

// Loader fetches, validates, and caches specifications. The cache is
// the only process-wide mutable state besides the logger.
type Loader struct {
	schema  *jsonschema.Schema
	cache   *lru.LRU[string, Specification]
	metrics *metrics.Metrics
}

// Entries expire after 10 minutes or once 1000 are held, LRU eviction.
const (
	cacheEntries = 1000
	cacheTTL     = 10 * time.Minute
)

func New(m *metrics.Metrics) (*Loader, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("specloader: compiling schema: %w", err)
	}
	return &Loader{
		schema:  schema,
		cache:   lru.NewLRU[string, Specification](cacheEntries, nil, cacheTTL),
		metrics: m,
	}, nil
}

// ClearForTests resets the cache so test boots start cold.
func (l *Loader) ClearForTests() {
	l.cache.Purge()
}

// Load fetches the spec for (repoID, ref), validating and caching by
// (repo_id, ref, content_hash).
func (l *Loader) Load(ctx context.Context, cc *canonical.Context, repoID, ref string) Result {
	if !cc.HasCapability("get_file") {
		return Result{OK: false, Reason: ReasonFetchError, Diagnostic: "host does not support get_file"}
	}

	raw, err := cc.Capabilities.GetFile(ctx, SpecPath, ref)
	if errors.Is(err, canonical.ErrNotFound) {
		return Result{OK: false, Reason: ReasonMissing, Diagnostic: SpecPath + " not found"}
	}
	if err != nil {
		return Result{OK: false, Reason: ReasonFetchError, Diagnostic: err.Error()}
	}

	hash := contentHash(raw)
	cacheKey := repoID + "\x00" + ref + "\x00" + hash
	if cached, ok := l.cache.Get(cacheKey); ok {
		l.metrics.SpecCacheHitsTotal.Inc()
		return Result{OK: true, Spec: cached}
	}
	l.metrics.SpecCacheMissesTotal.Inc()

	var spec Specification
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return Result{OK: false, Reason: ReasonInvalidYAML, Diagnostic: err.Error()}
	}

	if diag := l.validate(raw); diag != "" {
		return Result{OK: false, Reason: ReasonSchemaViolation, Diagnostic: diag}
	}

	spec.Hash = hash
	l.cache.Add(cacheKey, spec)
	return Result{OK: true, Spec: spec}
}

func (l *Loader) validate(raw []byte) string {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err.Error()
	}
	// jsonschema validates against JSON-shaped data; normalize map[any]any
	// (yaml.v3's native decode) to map[string]any via a JSON round trip.
	jsonBytes, err := toJSONCompatible(generic)
	if err != nil {
		return err.Error()
	}
	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return err.Error()
	}
	if err := l.schema.Validate(doc); err != nil {
		return err.Error()
	}
	return ""
}

func toJSONCompatible(v any) ([]byte, error) {
	return json.Marshal(convert(v))
}

func convert(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = convert(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = convert(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = convert(val)
		}
		return out
	default:
		return x
	}
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

const schemaDocument = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "gates"],
  "properties": {
    "schema_version": {"type": "string"},
    "intent": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "goals": {"type": "array", "items": {"type": "string"}},
        "non_goals": {"type": "array", "items": {"type": "string"}}
      }
    },
    "gates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string"},
          "id": {"type": "string"},
          "with": {"type": "object"}
        }
      }
    },
    "required_status_contexts": {"type": "array", "items": {"type": "string"}}
  }
}`

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(schemaDocument)))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("repo-spec.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("repo-spec.json")
}
