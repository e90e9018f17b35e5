// Package expression evaluates the boolean condition attached to a
// workflow step (model.Step.Condition) to decide whether that step
// dispatches or is skipped.
//
// It uses the expr-lang/expr library against the same template context
// the executor builds for dotted-path rendering (parameters, run, steps,
// shared). Expressions support:
//
//   - Variable access: parameters.name, steps.step_id.result
//   - Comparisons: ==, !=, <, >, <=, >=
//   - Boolean logic: &&, ||, !
//   - Membership: "value" in array (built-in operator)
//   - Custom functions: has(array, element), includes(array, element)
//
// Example expressions:
//
//	steps.check.result.status == "success"
//	has(parameters.regions, "us-east-1")
//	parameters.mode == "strict" && steps.scan.result.count > 0
//	!steps.gate.result.skip
//
// A condition may also mix in {{.steps.id.field}}-style template tokens,
// resolved against the same context before the expression is compiled
// (see PreprocessTemplate).
//
// The evaluator caches compiled expressions for performance.
//
// Note: The expr library uses "contains" as a string operator (for substring matching),
// so use "in" or "has()" for array membership checks.
package expression
