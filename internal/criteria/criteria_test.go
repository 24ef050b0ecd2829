package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestValidate(t *testing.T) {
	t.Run("empty criteria is an error", func(t *testing.T) {
		err := Validate(Criteria{})
		require.ErrorIs(t, err, ErrEmptySuccessCriteria)
	})

	t.Run("comparator must set exactly one key", func(t *testing.T) {
		err := Validate(Criteria{Require: []Comparator{{Metric: "m", GTE: f(0.5), GT: f(0.1)}}})
		require.Error(t, err)
	})

	t.Run("well-formed criteria passes", func(t *testing.T) {
		err := Validate(Criteria{Require: []Comparator{{Metric: "m", GTE: f(0.5)}}})
		require.NoError(t, err)
	})
}

func TestEval(t *testing.T) {
	cases := []struct {
		name       string
		metrics    map[string]float64
		criteria   Criteria
		wantStatus Status
	}{
		{
			name:       "require satisfied",
			metrics:    map[string]float64{"alignment": 0.82},
			criteria:   Criteria{Require: []Comparator{{Metric: "alignment", GTE: f(0.7)}}},
			wantStatus: StatusPass,
		},
		{
			name:       "require not satisfied",
			metrics:    map[string]float64{"alignment": 0.5},
			criteria:   Criteria{Require: []Comparator{{Metric: "alignment", GTE: f(0.7)}}},
			wantStatus: StatusFail,
		},
		{
			name:       "missing metric without neutral_on_missing fails",
			metrics:    map[string]float64{},
			criteria:   Criteria{Require: []Comparator{{Metric: "alignment", GTE: f(0.7)}}},
			wantStatus: StatusFail,
		},
		{
			name:       "missing metric with neutral_on_missing is neutral",
			metrics:    map[string]float64{},
			criteria:   Criteria{Require: []Comparator{{Metric: "alignment", GTE: f(0.7)}}, NeutralOnMissingMetrics: true},
			wantStatus: StatusNeutral,
		},
		{
			name:    "any_of: at least one match passes",
			metrics: map[string]float64{"a": 0.1, "b": 0.9},
			criteria: Criteria{AnyOf: []Comparator{
				{Metric: "a", GTE: f(0.5)},
				{Metric: "b", GTE: f(0.5)},
			}},
			wantStatus: StatusPass,
		},
		{
			name:    "any_of: none match fails",
			metrics: map[string]float64{"a": 0.1, "b": 0.2},
			criteria: Criteria{AnyOf: []Comparator{
				{Metric: "a", GTE: f(0.5)},
				{Metric: "b", GTE: f(0.5)},
			}},
			wantStatus: StatusFail,
		},
		{
			name:       "empty criteria never silently passes",
			metrics:    map[string]float64{"a": 1},
			criteria:   Criteria{},
			wantStatus: StatusFail,
		},
		{
			name:       "eq comparator",
			metrics:    map[string]float64{"m": 0.5},
			criteria:   Criteria{Require: []Comparator{{Metric: "m", EQ: f(0.5)}}},
			wantStatus: StatusPass,
		},
		{
			name:       "lt/lte boundary",
			metrics:    map[string]float64{"m": 0.5},
			criteria:   Criteria{Require: []Comparator{{Metric: "m", LTE: f(0.5)}, {Metric: "m", LT: f(0.6)}}},
			wantStatus: StatusPass,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := Eval(tc.metrics, tc.criteria)
			assert.Equal(t, tc.wantStatus, result.Status)
		})
	}
}

func TestEval_EmptyFailedTokenOnEmptyCriteria(t *testing.T) {
	result := Eval(map[string]float64{"m": 1}, Criteria{})
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Failed, "empty_success_criteria")
}
