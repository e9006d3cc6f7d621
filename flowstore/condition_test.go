package flowstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpression(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Expression
		wantErr bool
	}{
		{
			name: "simple comparison",
			raw:  "age >= 18",
			want: Expression{Variable: "age", Op: OpGreaterEq, Literal: "18"},
		},
		{
			name: "literal with spaces",
			raw:  "city == Sao Paulo",
			want: Expression{Variable: "city", Op: OpEqual, Literal: "Sao Paulo"},
		},
		{
			name: "empty literal on equality",
			raw:  "name !=",
			want: Expression{Variable: "name", Op: OpNotEqual, Literal: ""},
		},
		{
			name: "in list",
			raw:  "plan in free,trial",
			want: Expression{Variable: "plan", Op: OpIn, Literal: "free,trial"},
		},
		{name: "unknown operator", raw: "age ~= 18", wantErr: true},
		{name: "too few fields", raw: "age", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		// An empty literal would make contains match every value.
		{name: "contains without literal", raw: "note contains", wantErr: true},
		{name: "not_contains without literal", raw: "note not_contains", wantErr: true},
		{name: "in without literal", raw: "plan in", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExpression(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpressionEvaluate(t *testing.T) {
	vars := map[string]string{
		"age":   "21",
		"score": "3.5",
		"name":  "Maria",
		"plan":  "trial",
		"note":  "call me tomorrow",
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"age == 21", true},
		{"age == 21.0", true}, // numeric equality
		{"age == 22", false},
		{"name == Maria", true},
		{"name != Maria", false},
		{"age > 18", true},
		{"age > 21", false},
		{"age >= 21", true},
		{"score < 4", true},
		{"score <= 3.5", true},
		{"name > 10", false}, // non-numeric ordering is false, not an error
		{"note contains tomorrow", true},
		{"note not_contains monday", true},
		{"plan in free,trial", true},
		{"plan in free, trial", true}, // items are trimmed
		{"plan in premium", false},
		{"missing == ", true}, // unknown variable is the empty string
		{"missing == x", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			expr, err := ParseExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.Evaluate(vars))
		})
	}
}
