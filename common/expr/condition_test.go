package expr

import (
	"strings"
	"testing"
)

func newConditions(t *testing.T) *ConditionEvaluator {
	t.Helper()
	e, err := NewConditionEvaluator()
	if err != nil {
		t.Fatalf("NewConditionEvaluator failed: %v", err)
	}
	return e
}

func TestCondition_TrivialLiterals(t *testing.T) {
	e := newConditions(t)

	truthy := []string{"true", "TRUE", " yes ", "y", "1"}
	for _, expr := range truthy {
		result, err := e.Evaluate(expr, nil, nil, nil)
		if err != nil || !result {
			t.Errorf("literal %q: expected true, got %v (err %v)", expr, result, err)
		}
	}

	falsy := []string{"false", "No", "n", "0"}
	for _, expr := range falsy {
		result, err := e.Evaluate(expr, nil, nil, nil)
		if err != nil || result {
			t.Errorf("literal %q: expected false, got %v (err %v)", expr, result, err)
		}
	}

	// literals bypass compilation entirely
	if e.CacheSize() != 0 {
		t.Errorf("literals must not populate the cache, size %d", e.CacheSize())
	}
}

func TestCondition_EmptyIsTrue(t *testing.T) {
	e := newConditions(t)

	result, err := e.Evaluate("  ", map[string]interface{}{}, nil, nil)
	if err != nil || !result {
		t.Fatalf("empty condition should pass, got %v (err %v)", result, err)
	}
}

func TestCondition_ValueComparison(t *testing.T) {
	e := newConditions(t)
	value := map[string]interface{}{"score": 0.8, "class": "billing"}

	result, err := e.Evaluate(`value["score"] > 0.5`, value, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result {
		t.Error("expected score comparison to pass")
	}

	result, err = e.Evaluate(`value["class"] == "support"`, value, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result {
		t.Error("expected class comparison to fail")
	}
}

func TestCondition_InputAndContextNamespaces(t *testing.T) {
	e := newConditions(t)

	result, err := e.Evaluate(
		`input["mode"] == "fast" && context["region"] == "eu"`,
		nil,
		map[string]interface{}{"mode": "fast"},
		map[string]interface{}{"region": "eu"},
	)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result {
		t.Error("expected namespaced condition to pass")
	}
}

func TestCondition_CompileErrorReturned(t *testing.T) {
	e := newConditions(t)

	if _, err := e.Evaluate("value ==== nope", nil, nil, nil); err == nil {
		t.Fatal("expected compile error for malformed expression")
	}
	if err := e.Check("value ==== nope"); err == nil {
		t.Fatal("Check should reject malformed expression")
	}
	if !strings.Contains(e.Check("value ==== nope").Error(), "compile") {
		t.Error("compile errors should say so")
	}
}

func TestCondition_GrammarRejectsCallsAndArithmetic(t *testing.T) {
	e := newConditions(t)

	rejected := []string{
		`size(value) > 2`,
		`value["n"] + 1 > 2`,
		`input["a"] - input["b"] == 0`,
		`value["n"] * 2 < 10`,
		`"a" + "b" == "ab"`,
		`value.score > 0.5`,
	}
	for _, expr := range rejected {
		if err := e.Check(expr); err == nil {
			t.Errorf("Check(%q) should reject disallowed syntax", expr)
		}
		if _, err := e.Evaluate(expr, map[string]interface{}{"n": 1.0, "score": 0.9}, nil, nil); err == nil {
			t.Errorf("Evaluate(%q) should reject disallowed syntax", expr)
		}
	}

	allowed := []string{
		`value["n"] > 0.5 && !(input["mode"] == "slow")`,
		`"billing" in context["classes"]`,
		`value["tags"][0] == "a"`,
	}
	for _, expr := range allowed {
		if err := e.Check(expr); err != nil {
			t.Errorf("Check(%q) unexpectedly rejected: %v", expr, err)
		}
	}
}

func TestCondition_RuntimeFailureFailsOpen(t *testing.T) {
	e := newConditions(t)

	// missing key raises inside CEL; edge gating fails open
	result, err := e.Evaluate(`value["missing"] == "x"`, map[string]interface{}{}, nil, nil)
	if err != nil {
		t.Fatalf("runtime failure must not surface as error: %v", err)
	}
	if !result {
		t.Error("runtime evaluation failure should fail open")
	}
}

func TestCondition_NonBooleanResultFailsOpen(t *testing.T) {
	e := newConditions(t)

	result, err := e.Evaluate(`"just a string"`, nil, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result {
		t.Error("non-boolean result should fail open")
	}
}

func TestCondition_ProgramCache(t *testing.T) {
	e := newConditions(t)
	expr := `value["n"] > 1.0`

	for i := 0; i < 3; i++ {
		if _, err := e.Evaluate(expr, map[string]interface{}{"n": 2.0}, nil, nil); err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
	}
	if e.CacheSize() != 1 {
		t.Errorf("expected 1 cached program, got %d", e.CacheSize())
	}

	e.ClearCache()
	if e.CacheSize() != 0 {
		t.Errorf("expected empty cache after clear, got %d", e.CacheSize())
	}
}
