package rules

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFacts() FactMap {
	return FactMap{
		"role":             "manager",
		"projectType":      "scrum",
		"sprintStatus":     "active",
		"isManager":        true,
		"issuesAssigned":   3,
		"openBugs":         0,
		"daysInProject":    12,
		"hour":             9,
		"hasOverdueIssues": false,
	}
}

// captureWarnings swaps the warning sink for the duration of a test.
func captureWarnings(t *testing.T) *[]string {
	t.Helper()
	var (
		mu       sync.Mutex
		warnings []string
	)
	prev := logf
	logf = func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}
	t.Cleanup(func() { logf = prev })
	return &warnings
}

func leaf(fact string, op Operator, value any) *Node {
	return &Node{Fact: fact, Operator: op, Value: value}
}

func TestEvaluate_AbsentAndEmptyNodes(t *testing.T) {
	facts := testFacts()

	assert.True(t, Evaluate(nil, facts), "absent node passes")
	assert.True(t, Evaluate(&Node{}, facts), "node with no keys passes")
	assert.True(t, Evaluate(&Node{All: []*Node{}}, facts), "empty all passes")
	assert.False(t, Evaluate(&Node{Any: []*Node{}}, facts), "empty any fails")
	assert.True(t, Evaluate(&Node{None: []*Node{}}, facts), "empty none passes")
}

func TestEvaluate_Operators(t *testing.T) {
	facts := testFacts()

	tests := []struct {
		name string
		node *Node
		want bool
	}{
		{"eq string", leaf("role", OpEq, "manager"), true},
		{"eq string mismatch", leaf("role", OpEq, "developer"), false},
		{"eq int against float", leaf("issuesAssigned", OpEq, float64(3)), true},
		{"eq bool", leaf("isManager", OpEq, true), true},
		{"eq type mismatch", leaf("issuesAssigned", OpEq, "3"), false},
		{"neq", leaf("sprintStatus", OpNeq, "none"), true},
		{"neq equal", leaf("sprintStatus", OpNeq, "active"), false},
		{"gt", leaf("issuesAssigned", OpGt, 0), true},
		{"gt equal", leaf("issuesAssigned", OpGt, 3), false},
		{"gte equal", leaf("issuesAssigned", OpGte, 3), true},
		{"lt", leaf("openBugs", OpLt, 1), true},
		{"lte", leaf("hour", OpLte, 9), true},
		{"lt non-numeric value", leaf("hour", OpLt, "ten"), false},
		{"in", leaf("role", OpIn, []any{"developer", "manager"}), true},
		{"in typed slice", leaf("projectType", OpIn, []string{"kanban"}), false},
		{"in numbers", leaf("hour", OpIn, []any{float64(8), float64(9)}), true},
		{"notIn", leaf("sprintStatus", OpNotIn, []any{"planning", "closed"}), true},
		{"notIn present", leaf("sprintStatus", OpNotIn, []any{"active"}), false},
		{"in non-list", leaf("role", OpIn, "manager"), false},
		{"between inclusive low", leaf("hour", OpBetween, []any{float64(9), float64(17)}), true},
		{"between inclusive high", leaf("daysInProject", OpBetween, []any{0, 12}), true},
		{"between outside", leaf("daysInProject", OpBetween, []any{0, 7}), false},
		{"between malformed", leaf("hour", OpBetween, []any{1}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.node, facts))
		})
	}
}

func TestEvaluate_UnknownFactFailsForEveryOperator(t *testing.T) {
	warnings := captureWarnings(t)
	facts := testFacts()

	for op := range operators {
		t.Run(string(op), func(t *testing.T) {
			assert.False(t, Evaluate(leaf("favouriteColour", op, "blue"), facts))
		})
	}

	assert.NotEmpty(t, *warnings)
	assert.Contains(t, (*warnings)[0], "Unknown fact")
}

func TestEvaluate_UnknownOperatorFails(t *testing.T) {
	warnings := captureWarnings(t)

	assert.False(t, Evaluate(leaf("role", "matches", "man.*"), testFacts()))
	require.Len(t, *warnings, 1)
	assert.Contains(t, (*warnings)[0], "Unknown operator")
}

func TestEvaluate_UnknownConditionDoesNotFailWholeTree(t *testing.T) {
	captureWarnings(t)

	node := &Node{Any: []*Node{
		leaf("noSuchFact", OpEq, 1),
		leaf("role", OpEq, "manager"),
	}}
	assert.True(t, Evaluate(node, testFacts()))
}

func TestEvaluate_Composites(t *testing.T) {
	facts := testFacts()
	pass := leaf("role", OpEq, "manager")
	fail := leaf("role", OpEq, "developer")

	assert.True(t, Evaluate(&Node{All: []*Node{pass, pass}}, facts))
	assert.False(t, Evaluate(&Node{All: []*Node{pass, fail}}, facts))
	assert.True(t, Evaluate(&Node{Any: []*Node{fail, pass}}, facts))
	assert.False(t, Evaluate(&Node{Any: []*Node{fail, fail}}, facts))
	assert.True(t, Evaluate(&Node{None: []*Node{fail, fail}}, facts))
	assert.False(t, Evaluate(&Node{None: []*Node{fail, pass}}, facts))

	nested := &Node{All: []*Node{
		{Any: []*Node{fail, pass}},
		{None: []*Node{leaf("sprintStatus", OpEq, "none")}},
	}}
	assert.True(t, Evaluate(nested, facts))
}

func TestEvaluate_CompositePrecedence(t *testing.T) {
	facts := testFacts()
	pass := leaf("role", OpEq, "manager")
	fail := leaf("role", OpEq, "developer")

	// all wins over any and none
	assert.False(t, Evaluate(&Node{All: []*Node{fail}, Any: []*Node{pass}}, facts))
	// any wins over none
	assert.True(t, Evaluate(&Node{Any: []*Node{pass}, None: []*Node{pass}}, facts))
}

func TestParse(t *testing.T) {
	t.Run("leaf", func(t *testing.T) {
		n, err := Parse([]byte(`{"fact":"openBugs","operator":"gt","value":0}`))
		require.NoError(t, err)
		assert.True(t, n.IsLeaf())
		assert.Equal(t, float64(0), n.Value)
	})

	t.Run("empty composite keeps its meaning", func(t *testing.T) {
		n, err := Parse([]byte(`{"any":[]}`))
		require.NoError(t, err)
		assert.NotNil(t, n.Any)
		assert.False(t, Evaluate(n, testFacts()))
	})

	t.Run("null is an absent rule", func(t *testing.T) {
		n, err := Parse([]byte(`null`))
		require.NoError(t, err)
		assert.Nil(t, n)
		assert.True(t, Evaluate(n, testFacts()))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Parse([]byte(`{"all":`))
		assert.Error(t, err)
	})
}

func TestMarshalRoundTrip(t *testing.T) {
	src := `{"all":[{"fact":"projectType","operator":"eq","value":"scrum"},{"any":[]},{"none":[{"fact":"hour","operator":"between","value":[0,6]}]}]}`
	n, err := Parse([]byte(src))
	require.NoError(t, err)

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, src, string(data))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		node    *Node
		wantErr string
	}{
		{"nil", nil, ""},
		{"leaf", leaf("role", OpEq, "x"), ""},
		{"unknown operator", leaf("role", "like", "x"), "unknown operator"},
		{"leaf without fact", &Node{Operator: OpEq}, "has no fact"},
		{"mixed", &Node{Fact: "role", Operator: OpEq, All: []*Node{}}, "mixes"},
		{"two composite keys", &Node{All: []*Node{}, None: []*Node{}}, "expected one of"},
		{"nested error", &Node{Any: []*Node{leaf("role", "bogus", 1)}}, "unknown operator"},
		{"null child", &Node{All: []*Node{nil}}, "is null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluate_ConcurrentUse(t *testing.T) {
	node := &Node{All: []*Node{
		leaf("role", OpIn, []any{"manager"}),
		leaf("hour", OpBetween, []any{0, 23}),
	}}
	facts := testFacts()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.True(t, Evaluate(node, facts))
			}
		}()
	}
	wg.Wait()
}
