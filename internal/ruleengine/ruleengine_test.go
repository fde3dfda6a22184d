package ruleengine

import "testing"

func TestEvaluateLeafOperators(t *testing.T) {
	ctx := map[string]any{
		"transaction": map[string]any{
			"amount_value": 15000.0,
			"currency":     "USD",
			"psp_name":     "stripe",
		},
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq match", Condition{Field: "transaction.currency", Operator: OpEq, Value: "USD"}, true},
		{"eq mismatch", Condition{Field: "transaction.currency", Operator: OpEq, Value: "EUR"}, false},
		{"ne", Condition{Field: "transaction.currency", Operator: OpNe, Value: "EUR"}, true},
		{"gt true", Condition{Field: "transaction.amount_value", Operator: OpGt, Value: 10000.0}, true},
		{"gt false", Condition{Field: "transaction.amount_value", Operator: OpGt, Value: 20000.0}, false},
		{"gte boundary", Condition{Field: "transaction.amount_value", Operator: OpGte, Value: 15000.0}, true},
		{"lt", Condition{Field: "transaction.amount_value", Operator: OpLt, Value: 20000.0}, true},
		{"lte boundary", Condition{Field: "transaction.amount_value", Operator: OpLte, Value: 15000.0}, true},
		{"in match", Condition{Field: "transaction.psp_name", Operator: OpIn, Value: []any{"stripe", "adyen"}}, true},
		{"in miss", Condition{Field: "transaction.psp_name", Operator: OpIn, Value: []any{"adyen"}}, false},
		{"contains", Condition{Field: "transaction.psp_name", Operator: OpContains, Value: "strip"}, true},
		{"regex match", Condition{Field: "transaction.psp_name", Operator: OpRegex, Value: "^str.*"}, true},
		{"regex miss", Condition{Field: "transaction.psp_name", Operator: OpRegex, Value: "^adyen$"}, false},
		{"missing field", Condition{Field: "transaction.missing", Operator: OpEq, Value: "anything"}, false},
		{"unresolvable nested path", Condition{Field: "settlement.amount", Operator: OpEq, Value: 1}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Evaluate(c.cond, ctx); got != c.want {
				t.Errorf("Evaluate(%+v) = %v, want %v", c.cond, got, c.want)
			}
		})
	}
}

func TestEvaluateBooleanCombinators(t *testing.T) {
	ctx := map[string]any{"transaction": map[string]any{"amount_value": 500.0, "currency": "USD"}}

	and := Condition{And: []Condition{
		{Field: "transaction.currency", Operator: OpEq, Value: "USD"},
		{Field: "transaction.amount_value", Operator: OpGt, Value: 100.0},
	}}
	if !Evaluate(and, ctx) {
		t.Fatal("expected And of two true leaves to be true")
	}

	andFalse := Condition{And: []Condition{
		{Field: "transaction.currency", Operator: OpEq, Value: "USD"},
		{Field: "transaction.amount_value", Operator: OpGt, Value: 10000.0},
	}}
	if Evaluate(andFalse, ctx) {
		t.Fatal("expected And short-circuit on a false leaf")
	}

	or := Condition{Or: []Condition{
		{Field: "transaction.currency", Operator: OpEq, Value: "EUR"},
		{Field: "transaction.amount_value", Operator: OpGt, Value: 100.0},
	}}
	if !Evaluate(or, ctx) {
		t.Fatal("expected Or to be true when one leaf matches")
	}

	not := Condition{Not: &Condition{Field: "transaction.currency", Operator: OpEq, Value: "EUR"}}
	if !Evaluate(not, ctx) {
		t.Fatal("expected Not to invert a false leaf to true")
	}

	nested := Condition{And: []Condition{
		{Field: "transaction.currency", Operator: OpEq, Value: "USD"},
		{Not: &Condition{Field: "transaction.amount_value", Operator: OpGt, Value: 10000.0}},
	}}
	if !Evaluate(nested, ctx) {
		t.Fatal("expected nested And/Not composition to evaluate true")
	}
}
