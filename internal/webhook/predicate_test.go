package webhook

import (
	"encoding/json"
	"testing"

	"github.com/homelab/ha-ingestor/internal/model"
)

func evWithState(entityID, domain, state string, attrs string) *model.Event {
	return &model.Event{
		EntityID: entityID,
		Domain:   domain,
		NewState: &model.State{State: state, Attributes: json.RawMessage(attrs)},
	}
}

func TestPredicate_SimpleEquality(t *testing.T) {
	p, err := ParsePredicate(json.RawMessage(`{"any":[{"all":[{"field":"entity_id","op":"eq","value":"light.living_room"}]}]}`))
	if err != nil {
		t.Fatalf("ParsePredicate: %v", err)
	}
	if !p.Evaluate(evWithState("light.living_room", "light", "on", "{}")) {
		t.Error("expected match")
	}
	if p.Evaluate(evWithState("light.kitchen", "light", "on", "{}")) {
		t.Error("expected no match for different entity_id")
	}
}

func TestPredicate_DomainAndStateConjunction(t *testing.T) {
	p, _ := ParsePredicate(json.RawMessage(`{"any":[{"all":[
		{"field":"domain","op":"eq","value":"climate"},
		{"field":"new_state.state","op":"eq","value":"heat"}
	]}]}`))
	if !p.Evaluate(evWithState("climate.hall", "climate", "heat", "{}")) {
		t.Error("expected match on both conditions")
	}
	if p.Evaluate(evWithState("climate.hall", "climate", "cool", "{}")) {
		t.Error("expected no match when state differs")
	}
}

func TestPredicate_Disjunction(t *testing.T) {
	p, _ := ParsePredicate(json.RawMessage(`{"any":[
		{"all":[{"field":"entity_id","op":"eq","value":"light.a"}]},
		{"all":[{"field":"entity_id","op":"eq","value":"light.b"}]}
	]}`))
	if !p.Evaluate(evWithState("light.b", "light", "on", "{}")) {
		t.Error("expected match on second clause")
	}
}

func TestPredicate_NumericThreshold(t *testing.T) {
	p, _ := ParsePredicate(json.RawMessage(`{"any":[{"all":[
		{"field":"new_state.attributes.temperature","op":"gt","value":25}
	]}]}`))
	if !p.Evaluate(evWithState("sensor.temp", "sensor", "26", `{"temperature":26}`)) {
		t.Error("expected match when attribute exceeds threshold")
	}
	if p.Evaluate(evWithState("sensor.temp", "sensor", "20", `{"temperature":20}`)) {
		t.Error("expected no match below threshold")
	}
	if p.Evaluate(evWithState("sensor.temp", "sensor", "20", `{}`)) {
		t.Error("expected no match when attribute absent")
	}
}

func TestPredicate_EmptyPredicateMatchesNothing(t *testing.T) {
	p, _ := ParsePredicate(nil)
	if p.Evaluate(evWithState("light.a", "light", "on", "{}")) {
		t.Error("expected an empty predicate to match nothing")
	}
}
