// Package webhook implements the Webhook Dispatcher (C5): per-subscription
// condition evaluation, HMAC signing, and bounded-retry HTTP delivery.
package webhook

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/homelab/ha-ingestor/internal/model"
)

// Condition is one leaf test in a subscription's predicate. Field is
// "entity_id", "domain", "new_state.state", or "new_state.attributes.<name>"
// for a numeric threshold test.
type Condition struct {
	Field string          `json:"field"`
	Op    string          `json:"op"` // eq, ne, gt, gte, lt, lte
	Value json.RawMessage `json:"value"`
}

// Clause is a conjunction (AND) of Conditions.
type Clause struct {
	All []Condition `json:"all"`
}

// Predicate is a disjunction (OR) of Clauses — the simple DNF subset
// described in spec.md §4.5. Predicates are pure and evaluate in O(1) per
// event: no field lookup recurses or iterates unboundedly.
type Predicate struct {
	Any []Clause `json:"any"`
}

// ParsePredicate decodes a subscription's raw Conditions JSON.
func ParsePredicate(raw json.RawMessage) (*Predicate, error) {
	var p Predicate
	if len(raw) == 0 {
		return &p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Evaluate reports whether ev satisfies the predicate. An empty predicate
// (no clauses) matches nothing, requiring an explicit condition set.
func (p *Predicate) Evaluate(ev *model.Event) bool {
	for _, clause := range p.Any {
		if clause.matches(ev) {
			return true
		}
	}
	return false
}

func (c *Clause) matches(ev *model.Event) bool {
	for _, cond := range c.All {
		if !cond.matches(ev) {
			return false
		}
	}
	return len(c.All) > 0
}

func (c *Condition) matches(ev *model.Event) bool {
	switch {
	case c.Field == "entity_id":
		return c.compareString(ev.EntityID)
	case c.Field == "domain":
		return c.compareString(ev.Domain)
	case c.Field == "new_state.state":
		if ev.NewState == nil {
			return false
		}
		return c.compareString(ev.NewState.State)
	case strings.HasPrefix(c.Field, "new_state.attributes."):
		name := strings.TrimPrefix(c.Field, "new_state.attributes.")
		v, ok := numericAttribute(ev, name)
		if !ok {
			return false
		}
		return c.compareNumeric(v)
	default:
		return false
	}
}

func numericAttribute(ev *model.Event, name string) (float64, bool) {
	if ev.NewState == nil || len(ev.NewState.Attributes) == 0 {
		return 0, false
	}
	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(ev.NewState.Attributes, &attrs); err != nil {
		return 0, false
	}
	raw, ok := attrs[name]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func (c *Condition) compareString(actual string) bool {
	var want string
	if err := json.Unmarshal(c.Value, &want); err != nil {
		return false
	}
	switch c.Op {
	case "eq", "":
		return actual == want
	case "ne":
		return actual != want
	default:
		return false
	}
}

func (c *Condition) compareNumeric(actual float64) bool {
	var want float64
	if err := json.Unmarshal(c.Value, &want); err != nil {
		// tolerate values encoded as strings
		var s string
		if err := json.Unmarshal(c.Value, &s); err != nil {
			return false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return false
		}
		want = parsed
	}
	switch c.Op {
	case "eq":
		return actual == want
	case "ne":
		return actual != want
	case "gt":
		return actual > want
	case "gte":
		return actual >= want
	case "lt":
		return actual < want
	case "lte":
		return actual <= want
	default:
		return false
	}
}
