// Package criteria implements the success-criteria evaluator: a pure
// function turning a metric map and a rule's require/any_of comparators
// into pass/fail/neutral.
package criteria

import "fmt"

// Comparator carries exactly one of {gte, gt, lte, lt, eq}; Validate
// rejects anything else.
type Comparator struct {
	Metric string
	GTE    *float64
	GT     *float64
	LTE    *float64
	LT     *float64
	EQ     *float64
}

// Criteria is a rule's success_criteria block.
type Criteria struct {
	Require                []Comparator
	AnyOf                  []Comparator
	NeutralOnMissingMetrics bool
}

// Status is the evaluator's verdict.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusNeutral Status = "neutral"
)

// Result is the outcome of Eval.
type Result struct {
	Status Status
	Passed []string
	Failed []string
}

// ErrEmptySuccessCriteria is returned when both Require and AnyOf are
// empty; callers must surface this as fail/neutral, never as a silent
// pass.
var ErrEmptySuccessCriteria = fmt.Errorf("criteria: empty_success_criteria")

// Validate reports exactly-one-key and non-empty-criteria violations
// ahead of evaluation.
func Validate(c Criteria) error {
	if len(c.Require) == 0 && len(c.AnyOf) == 0 {
		return ErrEmptySuccessCriteria
	}
	for _, cmp := range append(append([]Comparator{}, c.Require...), c.AnyOf...) {
		if countSet(cmp) != 1 {
			return fmt.Errorf("criteria: comparator for metric %q must set exactly one of gte/gt/lte/lt/eq", cmp.Metric)
		}
	}
	return nil
}

func countSet(c Comparator) int {
	n := 0
	for _, p := range []*float64{c.GTE, c.GT, c.LTE, c.LT, c.EQ} {
		if p != nil {
			n++
		}
	}
	return n
}

func (c Comparator) holds(v float64) bool {
	switch {
	case c.GTE != nil:
		return v >= *c.GTE
	case c.GT != nil:
		return v > *c.GT
	case c.LTE != nil:
		return v <= *c.LTE
	case c.LT != nil:
		return v < *c.LT
	case c.EQ != nil:
		return v == *c.EQ
	}
	return false
}

// Eval evaluates metrics against criteria: pass requires every require
// comparator to hold and, when any_of is non-empty, at least one of its
// comparators to hold.
func Eval(metrics map[string]float64, c Criteria) Result {
	if len(c.Require) == 0 && len(c.AnyOf) == 0 {
		return Result{Status: StatusFail, Failed: []string{"empty_success_criteria"}}
	}

	var passed, failed []string
	allRequireHeld := true

	for _, cmp := range c.Require {
		v, ok := metrics[cmp.Metric]
		if !ok {
			if c.NeutralOnMissingMetrics {
				return Result{Status: StatusNeutral, Failed: []string{"missing:" + cmp.Metric}}
			}
			failed = append(failed, "missing:"+cmp.Metric)
			allRequireHeld = false
			continue
		}
		if cmp.holds(v) {
			passed = append(passed, cmp.Metric)
		} else {
			failed = append(failed, cmp.Metric)
			allRequireHeld = false
		}
	}

	anyOfHeld := len(c.AnyOf) == 0
	for _, cmp := range c.AnyOf {
		v, ok := metrics[cmp.Metric]
		if !ok {
			continue
		}
		if cmp.holds(v) {
			anyOfHeld = true
		}
	}
	if len(c.AnyOf) > 0 {
		if anyOfHeld {
			passed = append(passed, "any_of")
		} else {
			failed = append(failed, "any_of")
		}
	}

	if allRequireHeld && anyOfHeld {
		return Result{Status: StatusPass, Passed: passed, Failed: failed}
	}
	return Result{Status: StatusFail, Passed: passed, Failed: failed}
}
