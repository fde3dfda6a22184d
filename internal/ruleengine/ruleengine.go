// Package ruleengine evaluates tenant-configurable reconciliation rules
// against a context map, the way
// original_source/backend/services/reconciliation/rule_engine.py does,
// retyped into an explicit Go AST (And/Or/Not/Cmp) instead of the
// original's untyped JSON-blob conditions since no rule-engine library
// appears anywhere in the retrieval pack — see DESIGN.md.
package ruleengine

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator is one of rule_engine.py's _evaluate_condition comparisons.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
)

// Condition is the evaluable AST node. Exactly one of the node kinds
// should be populated: a leaf Cmp, or one of And/Or/Not over child
// Conditions.
type Condition struct {
	And []Condition
	Or  []Condition
	Not *Condition

	Field    string
	Operator Operator
	Value    any
}

// Rule bundles a prioritized, named condition tree with the actions to
// run when it matches, mirroring the reconciliation_rule table's
// (conditions, actions, priority) columns.
type Rule struct {
	ID         string
	Name       string
	Priority   int
	Condition  Condition
	ActionKind string
	ActionArgs map[string]any
}

// Evaluate walks cond against context (§9's "context data: transaction,
// settlement, match, etc."), matching rule_engine.py's
// _evaluate_conditions/_evaluate_condition dispatch.
func Evaluate(cond Condition, context map[string]any) bool {
	switch {
	case cond.And != nil:
		for _, c := range cond.And {
			if !Evaluate(c, context) {
				return false
			}
		}
		return true
	case cond.Or != nil:
		for _, c := range cond.Or {
			if Evaluate(c, context) {
				return true
			}
		}
		return false
	case cond.Not != nil:
		return !Evaluate(*cond.Not, context)
	default:
		return evalLeaf(cond, context)
	}
}

func evalLeaf(cond Condition, context map[string]any) bool {
	fieldValue := getNested(context, cond.Field)
	switch cond.Operator {
	case OpEq:
		return compareEqual(fieldValue, cond.Value)
	case OpNe:
		return !compareEqual(fieldValue, cond.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(cond.Operator, fieldValue, cond.Value)
	case OpIn:
		return containsAny(cond.Value, fieldValue)
	case OpContains:
		return strings.Contains(fmt.Sprint(fieldValue), fmt.Sprint(cond.Value))
	case OpRegex:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(pattern, fmt.Sprint(fieldValue))
		return err == nil && matched
	default:
		return false
	}
}

// getNested resolves dot-notated paths into nested maps
// (rule_engine.py's _get_nested_value).
func getNested(context map[string]any, path string) any {
	var cur any = context
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func compareEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareOrdered(op Operator, a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpGt:
		return af > bf
	case OpGte:
		return af >= bf
	case OpLt:
		return af < bf
	case OpLte:
		return af <= bf
	default:
		return false
	}
}

func containsAny(set, v any) bool {
	items, ok := set.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if compareEqual(item, v) {
			return true
		}
	}
	return false
}
