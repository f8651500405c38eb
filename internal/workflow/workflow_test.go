package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesInitialStage(t *testing.T) {
	_, err := New(Definition{InitialStage: "missing", Stages: []StageDefinition{{ID: "a"}}})
	require.Error(t, err)
}

func TestNewValidatesTransitionTargets(t *testing.T) {
	_, err := New(Definition{
		InitialStage: "a",
		Stages: []StageDefinition{
			{ID: "a", Transitions: []StageTransition{{Target: "ghost"}}},
		},
	})
	require.Error(t, err)

	def, err := New(Definition{
		InitialStage: "a",
		Stages: []StageDefinition{
			{ID: "a", Transitions: []StageTransition{{Target: "finished"}}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, def.StageByID("a"))
	assert.Nil(t, def.StageByID("nope"))
}

func TestEvaluateWhenLiterals(t *testing.T) {
	assert.True(t, EvaluateWhen("", LookupContext{}))
	assert.True(t, EvaluateWhen("true", LookupContext{}))
	assert.True(t, EvaluateWhen("always", LookupContext{}))
	assert.False(t, EvaluateWhen("false", LookupContext{}))
	assert.False(t, EvaluateWhen("never", LookupContext{}))
}

func TestEvaluateWhenComparison(t *testing.T) {
	lc := LookupContext{WorkflowInput: map[string]any{"region": "eu"}}
	assert.True(t, EvaluateWhen("workflow_input.region == 'eu'", lc))
	assert.False(t, EvaluateWhen("workflow_input.region == 'us'", lc))
	assert.True(t, EvaluateWhen("workflow_input.region != 'us'", lc))
}

func TestEvaluateWhenNegation(t *testing.T) {
	lc := LookupContext{TransitionContext: map[string]any{"blocked": false}}
	assert.False(t, EvaluateWhen("context.blocked", lc))
	assert.True(t, EvaluateWhen("not context.blocked", lc))
	assert.True(t, EvaluateWhen("!context.blocked", lc))
}

func TestEvaluateWhenBareIdentifierFallback(t *testing.T) {
	lc := LookupContext{
		TransitionContext: map[string]any{"approved": true},
		WorkflowInput:     map[string]any{"region": "eu"},
		Ticket:            map[string]any{"title": "x"},
	}
	assert.True(t, EvaluateWhen("approved", lc))
	assert.True(t, EvaluateWhen("region", lc))
	assert.True(t, EvaluateWhen("title", lc))
	assert.False(t, EvaluateWhen("unknown_field", lc))
}

func TestEvaluateWhenMissingPathIsNull(t *testing.T) {
	lc := LookupContext{Ticket: map[string]any{}}
	assert.False(t, EvaluateWhen("ticket.deep.missing == 'x'", lc))
	assert.True(t, EvaluateWhen("ticket.deep.missing == none", lc))
}

func TestEvaluateWhenNumericCoercion(t *testing.T) {
	lc := LookupContext{TransitionContext: map[string]any{"count": int64(3)}}
	assert.True(t, EvaluateWhen("context.count == 3", lc))
	assert.False(t, EvaluateWhen("context.count == 3.5", lc))

	lc2 := LookupContext{TransitionContext: map[string]any{"ratio": 3.5}}
	assert.True(t, EvaluateWhen("context.ratio == 3.5", lc2))
}
