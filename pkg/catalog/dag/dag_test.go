package dag

import (
	"testing"

	catalogerrors "github.com/flowforge/catalog/pkg/errors"
	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobStep(id string, dependsOn ...string) model.Step {
	return model.Step{ID: id, Type: model.StepTypeJob, JobSlug: id, DependsOn: dependsOn}
}

func TestBuild_LinearOrder(t *testing.T) {
	steps := []model.Step{jobStep("a"), jobStep("b", "a"), jobStep("c", "b")}

	d, err := Build(steps)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, d.TopologicalOrder)
	assert.Equal(t, []string{"a"}, d.Roots)
	assert.Equal(t, []string{"b"}, d.Adjacency["a"])
}

func TestBuild_DuplicateID(t *testing.T) {
	steps := []model.Step{jobStep("a"), jobStep("a")}

	_, err := Build(steps)

	var verr *catalogerrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBuild_MissingDependency(t *testing.T) {
	steps := []model.Step{jobStep("a", "ghost")}

	_, err := Build(steps)

	var derr *catalogerrors.DependencyMissingError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "ghost", derr.DependsOn)
}

func TestBuild_CycleDetected(t *testing.T) {
	steps := []model.Step{jobStep("a", "c"), jobStep("b", "a"), jobStep("c", "b")}

	_, err := Build(steps)

	var cerr *catalogerrors.CycleDetectedError
	require.ErrorAs(t, err, &cerr)
	assert.NotEmpty(t, cerr.Cycle)
}

func TestBuild_FanoutTemplateRejectsDependents(t *testing.T) {
	tmpl := jobStep("child")
	tmpl.Dependents = []string{"x"}
	steps := []model.Step{
		{ID: "expand", Type: model.StepTypeFanout, Template: &tmpl, MaxItems: 10, MaxConcurrency: 2},
	}

	_, err := Build(steps)

	var verr *catalogerrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBuild_TopologicalOrderRespectsDependsOn(t *testing.T) {
	steps := []model.Step{jobStep("c", "a", "b"), jobStep("a"), jobStep("b", "a")}

	d, err := Build(steps)
	require.NoError(t, err)

	pos := map[string]int{}
	for i, id := range d.TopologicalOrder {
		pos[id] = i
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			assert.Less(t, pos[dep], pos[s.ID], "dependency %s must precede %s", dep, s.ID)
		}
	}
}
