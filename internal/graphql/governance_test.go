package graphql

import (
	"testing"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/drivehub/ugc/internal/errs"
)

func parse(t *testing.T, query string) *ast.QueryDocument {
	t.Helper()
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		t.Fatalf("parsing query: %v", err)
	}
	return doc
}

func TestDepth(t *testing.T) {
	g := NewGovernance(DefaultGovernanceConfig())

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"flat", `{ review(id: "1") }`, 1},
		{"two levels", `{ review(id: "1") { id text } }`, 2},
		{
			"nested entities",
			`{ offerRating(offerId: "1") { ratingDistribution { rating count } } }`,
			3,
		},
		{
			"inline fragments add no depth",
			`{ review(id: "1") { ... on Review { id } } }`,
			2,
		},
		{
			"fragment spread counts one level",
			`query { review(id: "1") { ...reviewFields } } fragment reviewFields on Review { id }`,
			2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Depth(parse(t, tt.query)); got != tt.want {
				t.Errorf("Depth = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestComplexity(t *testing.T) {
	g := NewGovernance(DefaultGovernanceConfig())

	tests := []struct {
		name      string
		query     string
		variables map[string]any
		want      int
	}{
		{
			// reviews base 5 + children id/text 2 = 7
			name:  "base costs with children",
			query: `{ reviews { id text } }`,
			want:  7,
		},
		{
			// (5 + 1) * 10
			name:  "limit argument multiplies",
			query: `{ reviews(limit: 10) { id } }`,
			want:  60,
		},
		{
			// variable-bound first argument
			name:      "variable multiplier",
			query:     `query($n: Int) { reviews(first: $n) { id } }`,
			variables: map[string]any{"n": float64(10)},
			want:      60,
		},
		{
			// clamped to 100: (5+1)*100
			name:  "multiplier clamped at 100",
			query: `{ reviews(limit: 5000) { id } }`,
			want:  600,
		},
		{
			// mutation doubles: (10 + 1) * 2
			name:  "mutation multiplier",
			query: `mutation { createReview(input: {offerId: "1", rating: 5, text: "x"}) { id } }`,
			want:  22,
		},
		{
			name:  "unknown fields cost default",
			query: `{ something { other } }`,
			want:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Complexity(parse(t, tt.query), tt.variables)
			if got != tt.want {
				t.Errorf("Complexity = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCheckRejectsDeepQuery(t *testing.T) {
	g := NewGovernance(GovernanceConfig{MaxDepth: 3, MaxComplexity: 1000})

	err := g.Check(`{ a { b { c { d } } } }`, nil)
	e, ok := errs.As(err)
	if !ok || e.Code() != "QUERY_TOO_DEEP" {
		t.Fatalf("err = %v, want QUERY_TOO_DEEP", err)
	}
}

func TestCheckRejectsComplexQuery(t *testing.T) {
	g := NewGovernance(GovernanceConfig{MaxDepth: 10, MaxComplexity: 50})

	err := g.Check(`{ reviews(limit: 100) { id } }`, nil)
	e, ok := errs.As(err)
	if !ok || e.Code() != "QUERY_TOO_COMPLEX" {
		t.Fatalf("err = %v, want QUERY_TOO_COMPLEX", err)
	}
}

func TestCheckAllowsReasonableQuery(t *testing.T) {
	g := NewGovernance(DefaultGovernanceConfig())

	if err := g.Check(`{ reviews(limit: 10) { id text rating } }`, nil); err != nil {
		t.Errorf("Check = %v, want nil", err)
	}
}

func TestCheckRejectsUnparseableQuery(t *testing.T) {
	g := NewGovernance(DefaultGovernanceConfig())

	err := g.Check(`{ unbalanced`, nil)
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindValidation {
		t.Fatalf("err = %v, want Validation", err)
	}
}

func TestIntrospectionExemption(t *testing.T) {
	introspection := `{ __schema { types { name fields { name type { name } } } } }`

	// Exempt by default even when it would exceed the depth limit.
	g := NewGovernance(GovernanceConfig{MaxDepth: 2, MaxComplexity: 1000})
	if err := g.Check(introspection, nil); err != nil {
		t.Errorf("exempt introspection rejected: %v", err)
	}

	// Limited when configured.
	g = NewGovernance(GovernanceConfig{MaxDepth: 2, MaxComplexity: 1000, LimitIntrospection: true})
	if err := g.Check(introspection, nil); err == nil {
		t.Error("limited introspection accepted")
	}
}
