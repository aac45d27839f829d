package graphql

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/drivehub/ugc/internal/errs"
)

// GovernanceConfig tunes pre-execution query analysis.
type GovernanceConfig struct {
	MaxDepth         int
	MaxComplexity    int
	DefaultFieldCost int
	// LimitIntrospection applies the limits to introspection queries too.
	LimitIntrospection bool
}

// DefaultGovernanceConfig matches the production limits.
func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{
		MaxDepth:         10,
		MaxComplexity:    1000,
		DefaultFieldCost: 1,
	}
}

// fieldCosts assigns base costs to known fields; unknown fields use the
// default cost.
var fieldCosts = map[string]int{
	"reviews":           5,
	"reviewsConnection": 10,
	"offer":             3,
	"user":              2,
	"averageRating":     3,
	"reviewsCount":      2,
	"createReview":      10,
	"updateReview":      8,
	"deleteReview":      5,
	"moderateReview":    7,
}

// Governance analyses queries for depth and complexity before execution.
type Governance struct {
	cfg GovernanceConfig
}

// NewGovernance creates the analyzer.
func NewGovernance(cfg GovernanceConfig) *Governance {
	if cfg.DefaultFieldCost == 0 {
		cfg.DefaultFieldCost = 1
	}
	return &Governance{cfg: cfg}
}

// Check parses the query and enforces depth and complexity limits. The
// returned error carries the QUERY_TOO_DEEP or QUERY_TOO_COMPLEX code and
// must be surfaced before any resolver runs.
func (g *Governance) Check(query string, variables map[string]any) error {
	doc, parseErr := parser.ParseQuery(&ast.Source{Name: "query", Input: query})
	if parseErr != nil {
		return errs.Validation(fmt.Sprintf("failed to parse query: %v", parseErr))
	}

	if !g.cfg.LimitIntrospection && isIntrospection(doc) {
		return nil
	}

	depth := g.Depth(doc)
	if depth > g.cfg.MaxDepth {
		return errs.Validation(fmt.Sprintf(
			"query depth %d exceeds maximum allowed depth of %d", depth, g.cfg.MaxDepth,
		)).WithCode("QUERY_TOO_DEEP")
	}

	complexity := g.Complexity(doc, variables)
	if complexity > g.cfg.MaxComplexity {
		return errs.Validation(fmt.Sprintf(
			"query complexity %d exceeds maximum allowed complexity of %d", complexity, g.cfg.MaxComplexity,
		)).WithCode("QUERY_TOO_COMPLEX")
	}

	return nil
}

// Depth returns the maximum selection nesting across the document's
// operations. Top-level fields count as depth 1; inline fragments add no
// depth; fragment spreads count as one level.
func (g *Governance) Depth(doc *ast.QueryDocument) int {
	maxDepth := 0
	for _, op := range doc.Operations {
		if d := selectionDepth(op.SelectionSet, 1); d > maxDepth {
			maxDepth = d
		}
	}
	return maxDepth
}

func selectionDepth(set ast.SelectionSet, current int) int {
	maxDepth := current - 1
	if len(set) == 0 {
		return current - 1
	}
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			d := current
			if nested := selectionDepth(s.SelectionSet, current+1); nested > d {
				d = nested
			}
			if d > maxDepth {
				maxDepth = d
			}
		case *ast.InlineFragment:
			if d := selectionDepth(s.SelectionSet, current); d > maxDepth {
				maxDepth = d
			}
		case *ast.FragmentSpread:
			if current > maxDepth {
				maxDepth = current
			}
		}
	}
	return maxDepth
}

// Complexity computes the document's cost bottom-up: each field contributes
// its base cost plus its children, multiplied by the first/limit argument
// multiplier; mutations double their operation's total.
func (g *Governance) Complexity(doc *ast.QueryDocument, variables map[string]any) int {
	total := 0
	for _, op := range doc.Operations {
		opMultiplier := 1
		if op.Operation == ast.Mutation {
			opMultiplier = 2
		}
		total += opMultiplier * g.selectionComplexity(op.SelectionSet, variables)
	}
	return total
}

func (g *Governance) selectionComplexity(set ast.SelectionSet, variables map[string]any) int {
	sum := 0
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			base := g.cfg.DefaultFieldCost
			if cost, ok := fieldCosts[s.Name]; ok {
				base = cost
			}
			children := g.selectionComplexity(s.SelectionSet, variables)
			sum += (base + children) * argumentMultiplier(s, variables)
		case *ast.InlineFragment:
			sum += g.selectionComplexity(s.SelectionSet, variables)
		case *ast.FragmentSpread:
			sum += g.cfg.DefaultFieldCost
		}
	}
	return sum
}

// argumentMultiplier derives a multiplier from first/limit arguments,
// clamped to 100 and defaulting to 1.
func argumentMultiplier(field *ast.Field, variables map[string]any) int {
	multiplier := 1
	for _, arg := range field.Arguments {
		if arg.Name != "first" && arg.Name != "limit" {
			continue
		}
		if v, ok := argumentIntValue(arg.Value, variables); ok {
			if v > 100 {
				v = 100
			}
			if v > multiplier {
				multiplier = v
			}
		}
	}
	return multiplier
}

func argumentIntValue(value *ast.Value, variables map[string]any) (int, bool) {
	if value == nil {
		return 0, false
	}
	switch value.Kind {
	case ast.IntValue:
		var v int
		if _, err := fmt.Sscanf(value.Raw, "%d", &v); err != nil {
			return 0, false
		}
		return v, true
	case ast.Variable:
		raw, ok := variables[value.Raw]
		if !ok {
			return 0, false
		}
		switch n := raw.(type) {
		case float64:
			return int(n), true
		case int:
			return n, true
		}
	}
	return 0, false
}

// isIntrospection reports whether any top-level query selection is an
// introspection field.
func isIntrospection(doc *ast.QueryDocument) bool {
	for _, op := range doc.Operations {
		if op.Operation != ast.Query {
			continue
		}
		for _, sel := range op.SelectionSet {
			if f, ok := sel.(*ast.Field); ok {
				if f.Name == "__schema" || f.Name == "__type" {
					return true
				}
			}
		}
	}
	return false
}
