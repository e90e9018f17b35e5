package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/catalog/pkg/catalog/eventbus"
	"github.com/flowforge/catalog/pkg/catalog/model"
)

func testEnvelope(payload map[string]interface{}) eventbus.Envelope {
	return eventbus.Envelope{ID: "evt-1", Type: "issue.updated", Payload: payload}
}

func TestMatchPredicates_EqualsOperator(t *testing.T) {
	p := New(Config{})
	trig := &model.WorkflowEventTrigger{Predicates: []model.Predicate{
		{Path: ".payload.status", Operator: model.OpEquals, Value: "open"},
	}}
	doc := envelopeDocument(testEnvelope(map[string]interface{}{"status": "open"}))

	ok, err := p.matchPredicates(context.Background(), trig, doc)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatchPredicates_AllMustHold(t *testing.T) {
	p := New(Config{})
	trig := &model.WorkflowEventTrigger{Predicates: []model.Predicate{
		{Path: ".payload.status", Operator: model.OpEquals, Value: "open"},
		{Path: ".payload.priority", Operator: model.OpEquals, Value: "high"},
	}}
	doc := envelopeDocument(testEnvelope(map[string]interface{}{"status": "open", "priority": "low"}))

	ok, err := p.matchPredicates(context.Background(), trig, doc)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatchPredicates_InOperator(t *testing.T) {
	p := New(Config{})
	trig := &model.WorkflowEventTrigger{Predicates: []model.Predicate{
		{Path: ".payload.label", Operator: model.OpIn, Values: []interface{}{"bug", "regression"}},
	}}
	doc := envelopeDocument(testEnvelope(map[string]interface{}{"label": "regression"}))

	ok, err := p.matchPredicates(context.Background(), trig, doc)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatchPredicates_GreaterThanOperator(t *testing.T) {
	p := New(Config{})
	trig := &model.WorkflowEventTrigger{Predicates: []model.Predicate{
		{Path: ".payload.severity", Operator: model.OpGreaterThan, Value: float64(3)},
	}}
	doc := envelopeDocument(testEnvelope(map[string]interface{}{"severity": 5}))

	ok, err := p.matchPredicates(context.Background(), trig, doc)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatchPredicates_ExistsOperator(t *testing.T) {
	p := New(Config{})
	trig := &model.WorkflowEventTrigger{Predicates: []model.Predicate{
		{Path: ".payload.assignee", Operator: model.OpExists},
	}}
	doc := envelopeDocument(testEnvelope(map[string]interface{}{"status": "open"}))

	ok, err := p.matchPredicates(context.Background(), trig, doc)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatchPredicates_MatchesOperator(t *testing.T) {
	p := New(Config{})
	trig := &model.WorkflowEventTrigger{Predicates: []model.Predicate{
		{Path: ".payload.title", Operator: model.OpMatches, Pattern: "^release-"},
	}}
	doc := envelopeDocument(testEnvelope(map[string]interface{}{"title": "release-2026.07"}))

	ok, err := p.matchPredicates(context.Background(), trig, doc)
	require.NoError(t, err)
	require.True(t, ok)
}
