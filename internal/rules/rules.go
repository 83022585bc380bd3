// Package rules evaluates section visibility rules against a fact record.
//
// A rule is a tree. A leaf compares one named fact to a literal value; a
// composite combines children with all (conjunction), any (disjunction) or
// none (no child may pass). An absent node always passes.
//
// Evaluation is total: an unknown fact, an unknown operator or a value of the
// wrong shape makes that single condition fail and is logged as a warning.
// Nothing here panics or returns an error, so Evaluate is safe to call from
// any number of goroutines.
package rules

import (
	"encoding/json"
	"fmt"
	"log"
)

// Operator names a leaf comparison.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpIn      Operator = "in"
	OpNotIn   Operator = "notIn"
	OpBetween Operator = "between"
)

// Facts is the read side of a fact record.
type Facts interface {
	// Fact returns the named fact and whether it is defined.
	Fact(name string) (any, bool)
}

// FactMap is a Facts backed by a plain map.
type FactMap map[string]any

// Fact implements Facts.
func (m FactMap) Fact(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Node is either a leaf {fact, operator, value} or a composite holding one of
// all, any or none. A nil slice means the key is absent; an empty non-nil
// slice is an empty composite.
type Node struct {
	Fact     string
	Operator Operator
	Value    any

	All  []*Node
	Any  []*Node
	None []*Node
}

// IsLeaf reports whether n is a single condition.
func (n *Node) IsLeaf() bool {
	return n.Fact != "" || n.Operator != ""
}

type wireNode struct {
	Fact     string          `json:"fact,omitempty"`
	Operator Operator        `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	All      []*Node         `json:"all"`
	Any      []*Node         `json:"any"`
	None     []*Node         `json:"none"`
}

// UnmarshalJSON decodes the stored rule format, keeping the distinction
// between an absent composite key and an empty one.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*n = Node{Fact: w.Fact, Operator: w.Operator, All: w.All, Any: w.Any, None: w.None}
	if len(w.Value) > 0 {
		if err := json.Unmarshal(w.Value, &n.Value); err != nil {
			return fmt.Errorf("invalid value for fact %q: %w", w.Fact, err)
		}
	}
	return nil
}

// MarshalJSON encodes only the keys that are present.
func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if n.IsLeaf() {
		out["fact"] = n.Fact
		out["operator"] = n.Operator
		out["value"] = n.Value
	}
	if n.All != nil {
		out["all"] = n.All
	}
	if n.Any != nil {
		out["any"] = n.Any
	}
	if n.None != nil {
		out["none"] = n.None
	}
	return json.Marshal(out)
}

// Parse decodes a rule from JSON. Empty input and "null" yield a nil rule,
// which always passes.
func Parse(data []byte) (*Node, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	return &n, nil
}

// logf receives evaluation warnings.
var logf = log.Printf

// Evaluate reports whether facts satisfy the rule rooted at node.
func Evaluate(node *Node, facts Facts) bool {
	if node == nil {
		return true
	}

	if node.IsLeaf() {
		return evaluateCondition(node, facts)
	}

	switch {
	case node.All != nil:
		for _, child := range node.All {
			if !Evaluate(child, facts) {
				return false
			}
		}
		return true

	case node.Any != nil:
		for _, child := range node.Any {
			if Evaluate(child, facts) {
				return true
			}
		}
		return false

	case node.None != nil:
		for _, child := range node.None {
			if Evaluate(child, facts) {
				return false
			}
		}
		return true
	}

	return true
}

func evaluateCondition(node *Node, facts Facts) bool {
	if facts == nil {
		logf("[RuleEvaluator] No facts supplied for %q", node.Fact)
		return false
	}

	factValue, ok := facts.Fact(node.Fact)
	if !ok {
		logf("[RuleEvaluator] Unknown fact: %q", node.Fact)
		return false
	}

	op, ok := operators[node.Operator]
	if !ok {
		logf("[RuleEvaluator] Unknown operator: %q", node.Operator)
		return false
	}

	return op(factValue, node.Value)
}

// Validate checks that a rule tree is well-formed: every leaf names a fact and
// a known operator, and no node mixes leaf fields with composite keys or
// carries more than one composite key. Evaluate tolerates all of these; Validate
// exists so that catalogs can be checked when they are loaded.
func (n *Node) Validate() error {
	if n == nil {
		return nil
	}

	keys := 0
	for _, children := range [][]*Node{n.All, n.Any, n.None} {
		if children != nil {
			keys++
		}
	}

	if n.IsLeaf() {
		if keys > 0 {
			return fmt.Errorf("node for fact %q mixes a condition with a composite", n.Fact)
		}
		if n.Fact == "" {
			return fmt.Errorf("condition with operator %q has no fact", n.Operator)
		}
		if _, ok := operators[n.Operator]; !ok {
			return fmt.Errorf("unknown operator %q for fact %q", n.Operator, n.Fact)
		}
		return nil
	}

	if keys > 1 {
		return fmt.Errorf("composite node has %d keys, expected one of all, any or none", keys)
	}

	for _, children := range [][]*Node{n.All, n.Any, n.None} {
		for i, child := range children {
			if child == nil {
				return fmt.Errorf("child %d is null", i)
			}
			if err := child.Validate(); err != nil {
				return err
			}
		}
	}

	return nil
}
