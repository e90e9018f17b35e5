package trigger

import (
	"context"
	"fmt"
	"regexp"

	"github.com/flowforge/catalog/pkg/catalog/eventbus"
	"github.com/flowforge/catalog/pkg/catalog/model"
)

// envelopeDocument is the structure predicate paths and templates are
// evaluated against: the full wire envelope, JSON-round-tripped so jq
// sees plain maps/slices rather than Go structs.
func envelopeDocument(env eventbus.Envelope) map[string]interface{} {
	return map[string]interface{}{
		"id":         env.ID,
		"type":       env.Type,
		"source":     env.Source,
		"payload":    env.Payload,
		"occurredAt": env.OccurredAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// matchPredicates evaluates every predicate on trigger against env,
// ANDing the results. An evaluation error stops the evaluation and is
// returned wrapped with the failing predicate's path.
func (p *Processor) matchPredicates(ctx context.Context, trigger *model.WorkflowEventTrigger, doc map[string]interface{}) (bool, error) {
	for _, pred := range trigger.Predicates {
		ok, err := p.matchPredicate(ctx, pred, doc)
		if err != nil {
			return false, fmt.Errorf("predicate %q: %w", pred.Path, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (p *Processor) matchPredicate(ctx context.Context, pred model.Predicate, doc map[string]interface{}) (bool, error) {
	value, err := p.jq.Execute(ctx, pred.Path, doc)
	if err != nil {
		return false, err
	}

	switch pred.Operator {
	case model.OpExists:
		return value != nil, nil
	case model.OpEquals:
		return compareEqual(value, pred.Value), nil
	case model.OpNotEquals:
		return !compareEqual(value, pred.Value), nil
	case model.OpIn:
		return containsValue(pred.Values, value), nil
	case model.OpNotIn:
		return !containsValue(pred.Values, value), nil
	case model.OpGreaterThan:
		return compareNumeric(value, pred.Value, func(a, b float64) bool { return a > b })
	case model.OpLessThan:
		return compareNumeric(value, pred.Value, func(a, b float64) bool { return a < b })
	case model.OpMatches:
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(pred.Pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", pred.Pattern, err)
		}
		return re.MatchString(s), nil
	default:
		return false, fmt.Errorf("unsupported predicate operator %q", pred.Operator)
	}
}

func compareEqual(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && sameKind(a, b)
}

// sameKind guards compareEqual against treating a string "1" and the
// number 1 as equal just because they stringify the same.
func sameKind(a, b interface{}) bool {
	switch a.(type) {
	case float64, int, int64:
		switch b.(type) {
		case float64, int, int64:
			return true
		default:
			return false
		}
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	default:
		return true
	}
}

func containsValue(haystack []interface{}, needle interface{}) bool {
	for _, v := range haystack {
		if compareEqual(v, needle) {
			return true
		}
	}
	return false
}

func compareNumeric(a, b interface{}, cmp func(x, y float64) bool) (bool, error) {
	af, ok := toFloat(a)
	if !ok {
		return false, nil
	}
	bf, ok := toFloat(b)
	if !ok {
		return false, fmt.Errorf("predicate comparison value is not numeric: %v", b)
	}
	return cmp(af, bf), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
