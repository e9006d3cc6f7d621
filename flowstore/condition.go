package flowstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is a comparison operator usable in condition expressions.
type Operator string

// The condition grammar: "<variable> <op> <literal>". Equality falls back
// to string comparison when either side is non-numeric; ordering operators
// evaluate to false (not an error) on non-numeric input so a bad user
// value routes to the default branch instead of failing the conversation.
const (
	OpEqual       Operator = "=="
	OpNotEqual    Operator = "!="
	OpGreater     Operator = ">"
	OpGreaterEq   Operator = ">="
	OpLess        Operator = "<"
	OpLessEq      Operator = "<="
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIn          Operator = "in"
)

var knownOperators = map[Operator]bool{
	OpEqual: true, OpNotEqual: true,
	OpGreater: true, OpGreaterEq: true, OpLess: true, OpLessEq: true,
	OpContains: true, OpNotContains: true, OpIn: true,
}

// requiresLiteral flags operators for which an empty literal is an
// authoring mistake: "note contains" would match every value.
var requiresLiteral = map[Operator]bool{
	OpContains: true, OpNotContains: true, OpIn: true,
}

// Expression is one parsed branch condition.
type Expression struct {
	Variable string
	Op       Operator
	Literal  string
}

// ParseExpression parses "<variable> <op> <literal>". The literal may
// contain spaces; everything after the operator belongs to it. Equality
// against the empty literal is legal (it tests for an unset variable), but
// contains, not_contains, and in demand one.
func ParseExpression(raw string) (Expression, error) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return Expression{}, fmt.Errorf("malformed expression %q: want <variable> <op> <literal>", raw)
	}

	op := Operator(fields[1])
	if !knownOperators[op] {
		return Expression{}, fmt.Errorf("expression %q: unknown operator %q", raw, fields[1])
	}

	expr := Expression{Variable: fields[0], Op: op}
	if len(fields) > 2 {
		expr.Literal = strings.Join(fields[2:], " ")
	}
	if expr.Literal == "" && requiresLiteral[op] {
		return Expression{}, fmt.Errorf("expression %q: operator %q requires a literal", raw, op)
	}
	return expr, nil
}

// Evaluate applies the expression against the variable map. Unknown
// variables evaluate as the empty string.
func (e Expression) Evaluate(vars map[string]string) bool {
	value := vars[e.Variable]

	switch e.Op {
	case OpEqual:
		return looseEqual(value, e.Literal)
	case OpNotEqual:
		return !looseEqual(value, e.Literal)
	case OpContains:
		return strings.Contains(value, e.Literal)
	case OpNotContains:
		return !strings.Contains(value, e.Literal)
	case OpIn:
		for _, item := range strings.Split(e.Literal, ",") {
			if strings.TrimSpace(item) == value {
				return true
			}
		}
		return false
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		left, okL := parseNumber(value)
		right, okR := parseNumber(e.Literal)
		if !okL || !okR {
			return false
		}
		switch e.Op {
		case OpGreater:
			return left > right
		case OpGreaterEq:
			return left >= right
		case OpLess:
			return left < right
		default:
			return left <= right
		}
	}
	return false
}

// looseEqual compares numerically when both sides parse as numbers, so
// "18" equals "18.0", and falls back to exact string comparison.
func looseEqual(a, b string) bool {
	if a == b {
		return true
	}
	na, okA := parseNumber(a)
	nb, okB := parseNumber(b)
	return okA && okB && na == nb
}

func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return n, err == nil
}
