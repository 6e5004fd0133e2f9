package model

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformedDefinition is the sentinel wrapped by every load failure.
// API handlers use errors.Is to translate it to a 400.
var ErrMalformedDefinition = errors.New("malformed workflow definition")

// MalformedDefinitionError carries the individual validation problems found
// while loading a definition.
type MalformedDefinitionError struct {
	Problems []string
}

func (e *MalformedDefinitionError) Error() string {
	return fmt.Sprintf("malformed workflow definition: %s", strings.Join(e.Problems, "; "))
}

func (e *MalformedDefinitionError) Unwrap() error { return ErrMalformedDefinition }

// Load parses a YAML workflow definition and validates it.
//
// Validation enforces the load-time invariants:
//   - every connection endpoint resolves to an element (including sub-process
//     children)
//   - element kinds are known
//   - exactly one top-level start event
//   - exclusive gateways have at most one default (empty-condition) outgoing flow
//   - parallel joins (≥2 incoming) have exactly one outgoing flow
func Load(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &MalformedDefinitionError{Problems: []string{fmt.Sprintf("invalid YAML: %v", err)}}
	}
	def.Index()

	if problems := validate(&def); len(problems) > 0 {
		return nil, &MalformedDefinitionError{Problems: problems}
	}
	return &def, nil
}

func validate(def *Definition) []string {
	var problems []string

	if def.Process.ID == "" {
		problems = append(problems, "process id is required")
	}

	starts := 0
	for i := range def.Process.Elements {
		e := &def.Process.Elements[i]
		if e.ID == "" {
			problems = append(problems, "element with empty id")
			continue
		}
		if !knownKinds[e.Kind] {
			problems = append(problems, fmt.Sprintf("element %s: unknown kind %q", e.ID, e.Kind))
		}
		if e.Kind == KindStartEvent {
			starts++
		}
		if e.Kind == KindBoundaryTimerEvent && e.AttachedToRef == "" {
			problems = append(problems, fmt.Sprintf("boundary event %s: attachedToRef is required", e.ID))
		}
		problems = append(problems, validateGraph(def, e.ChildElements, e.ChildConns, e.ID+"/")...)
	}
	if starts != 1 {
		problems = append(problems, fmt.Sprintf("process must have exactly one start event, found %d", starts))
	}

	problems = append(problems, validateConnections(def, def.Process.Connections, "")...)
	problems = append(problems, validateGateways(def, def.Process.Elements, def.Process.Connections)...)
	return problems
}

// validateGraph checks a sub-process child graph. Child connections must
// reference child elements; nesting is validated recursively via index().
func validateGraph(def *Definition, elems []Element, conns []Connection, prefix string) []string {
	var problems []string
	for i := range elems {
		if !knownKinds[elems[i].Kind] {
			problems = append(problems, fmt.Sprintf("element %s%s: unknown kind %q", prefix, elems[i].ID, elems[i].Kind))
		}
	}
	problems = append(problems, validateConnections(def, conns, prefix)...)
	problems = append(problems, validateGateways(def, elems, conns)...)
	return problems
}

func validateConnections(def *Definition, conns []Connection, prefix string) []string {
	var problems []string
	for _, c := range conns {
		if def.ElementByID(c.From) == nil {
			problems = append(problems, fmt.Sprintf("connection %s%s: unknown source element %q", prefix, c.ID, c.From))
		}
		if def.ElementByID(c.To) == nil {
			problems = append(problems, fmt.Sprintf("connection %s%s: unknown target element %q", prefix, c.ID, c.To))
		}
	}
	return problems
}

func validateGateways(def *Definition, elems []Element, conns []Connection) []string {
	outgoing := func(id string) (n int, defaults int) {
		for _, c := range conns {
			if c.From == id {
				n++
				if c.Condition() == "" {
					defaults++
				}
			}
		}
		return
	}
	incoming := func(id string) (n int) {
		for _, c := range conns {
			if c.To == id {
				n++
			}
		}
		return
	}

	var problems []string
	for i := range elems {
		e := &elems[i]
		switch e.Kind {
		case KindExclusiveGateway:
			if n, defaults := outgoing(e.ID); n > 1 && defaults > 1 {
				problems = append(problems, fmt.Sprintf(
					"exclusive gateway %s: %d flows with empty condition, at most one default allowed", e.ID, defaults))
			}
		case KindParallelGateway:
			if incoming(e.ID) >= 2 {
				if n, _ := outgoing(e.ID); n != 1 {
					problems = append(problems, fmt.Sprintf(
						"parallel join %s: must have exactly one outgoing flow, found %d", e.ID, n))
				}
			}
		}
	}
	return problems
}
