package jobruntime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
)

func seedJobRun(t *testing.T, s store.RecordStore, def *model.JobDefinition, params map[string]interface{}) *model.JobRun {
	t.Helper()
	require.NoError(t, s.PutJobDefinition(context.Background(), def))
	run := &model.JobRun{ID: "run-1", JobDefinitionID: def.Slug, Status: model.JobRunPending, Parameters: params}
	require.NoError(t, s.CreateJobRun(context.Background(), run))
	return run
}

func TestExecuteJobRun_StaticHandlerSucceeds(t *testing.T) {
	s := store.NewMemoryStore()
	def := &model.JobDefinition{ID: "def-1", Slug: "widget", EntryPoint: "staticHandler"}
	seedJobRun(t, s, def, map[string]interface{}{"x": 1})

	rt := &Runtime{
		Store: s,
		Handlers: map[string]Handler{
			"widget": func(ctx context.Context, jc *JobRunContext) (map[string]interface{}, error) {
				return map[string]interface{}{"ok": true}, nil
			},
		},
	}

	result, err := rt.ExecuteJobRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunSucceeded, result.Status)
	assert.Equal(t, true, result.Result["ok"])
	assert.NotNil(t, result.StartedAt)
	assert.NotNil(t, result.CompletedAt)
}

func TestExecuteJobRun_StaticHandlerFails(t *testing.T) {
	s := store.NewMemoryStore()
	def := &model.JobDefinition{ID: "def-1", Slug: "widget", EntryPoint: "staticHandler"}
	seedJobRun(t, s, def, nil)

	rt := &Runtime{
		Store: s,
		Handlers: map[string]Handler{
			"widget": func(ctx context.Context, jc *JobRunContext) (map[string]interface{}, error) {
				return nil, errors.New("boom")
			},
		},
	}

	result, err := rt.ExecuteJobRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunFailed, result.Status)
	assert.Equal(t, "boom", result.ErrorMessage)
}

func TestExecuteJobRun_NoHandlerRegisteredFailsRun(t *testing.T) {
	s := store.NewMemoryStore()
	def := &model.JobDefinition{ID: "def-1", Slug: "widget", EntryPoint: "staticHandler"}
	seedJobRun(t, s, def, nil)

	rt := &Runtime{Store: s, Handlers: map[string]Handler{}}

	result, err := rt.ExecuteJobRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "no static handler")
}

func TestExecuteJobRun_AlreadyTerminalIsNoop(t *testing.T) {
	s := store.NewMemoryStore()
	def := &model.JobDefinition{ID: "def-1", Slug: "widget", EntryPoint: "staticHandler"}
	run := seedJobRun(t, s, def, nil)
	_, err := s.UpdateJobRun(context.Background(), run.ID, func(r *model.JobRun) error {
		r.Status = model.JobRunSucceeded
		return nil
	})
	require.NoError(t, err)

	rt := &Runtime{Store: s, Handlers: map[string]Handler{
		"widget": func(ctx context.Context, jc *JobRunContext) (map[string]interface{}, error) {
			t.Fatal("handler must not run for a terminal job run")
			return nil, nil
		},
	}}

	result, err := rt.ExecuteJobRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunSucceeded, result.Status)
}

func TestResolveBinding_WorkflowOverrideTakesPrecedence(t *testing.T) {
	rt := &Runtime{}
	def := &model.JobDefinition{Slug: "widget", EntryPoint: "bundle:other@1"}
	run := &model.JobRun{Context: map[string]interface{}{
		"__workflowBundle": map[string]interface{}{"slug": "override-slug", "version": "3"},
	}}

	binding, isBundle, err := rt.resolveBinding(run, def)
	require.NoError(t, err)
	assert.True(t, isBundle)
	assert.Equal(t, "override-slug", binding.Slug)
	assert.Equal(t, "3", binding.Version)
}

func TestParseBundleEntryPoint(t *testing.T) {
	binding, err := parseBundleEntryPoint("bundle:widget@2#named")
	require.NoError(t, err)
	assert.Equal(t, "widget", binding.Slug)
	assert.Equal(t, "2", binding.Version)
	assert.Equal(t, "named", binding.ExportName)
}

func TestParseBundleEntryPoint_Invalid(t *testing.T) {
	_, err := parseBundleEntryPoint("bundle:widget")
	assert.Error(t, err)
}
