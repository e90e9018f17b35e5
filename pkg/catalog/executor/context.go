package executor

import "github.com/flowforge/catalog/pkg/catalog/model"

// buildTemplateContext assembles the map the template engine resolves
// dotted paths against: merged parameters, the run's own fields,
// per-step result/response projections, and the shared key/value bag.
func buildTemplateContext(run *model.WorkflowRun) map[string]interface{} {
	steps := map[string]interface{}{}
	for id, state := range run.Context.Steps {
		entry := map[string]interface{}{}
		if state.Result != nil {
			entry["result"] = state.Result
		}
		if state.Service != nil {
			entry["response"] = state.Service
		}
		steps[id] = entry
	}

	return map[string]interface{}{
		"parameters": run.Parameters,
		"run": map[string]interface{}{
			"parameters":   run.Parameters,
			"partitionKey": run.PartitionKey,
			"id":           run.ID,
		},
		"steps":  steps,
		"shared": run.Context.Shared,
	}
}

// withFanoutItem augments a base template context with the fan-out
// template's per-child bindings: `item` and `fanout.index` (1-based for
// display, per the Open Question decision — callers needing the
// 0-based address use fanoutIndex directly on the WorkflowRunStep).
func withFanoutItem(base map[string]interface{}, item interface{}, displayIndex int) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+2)
	for k, v := range base {
		out[k] = v
	}
	out["item"] = item
	out["fanout"] = map[string]interface{}{"index": displayIndex}
	return out
}
