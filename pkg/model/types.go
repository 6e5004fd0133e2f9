// Package model defines the immutable BPMN process definition loaded from
// YAML, plus lookup helpers used by the scheduler and gateway evaluator.
package model

// ElementKind identifies a BPMN element type.
type ElementKind string

const (
	KindStartEvent                  ElementKind = "startEvent"
	KindEndEvent                    ElementKind = "endEvent"
	KindIntermediateEvent           ElementKind = "intermediateEvent"
	KindTimerIntermediateCatchEvent ElementKind = "timerIntermediateCatchEvent"
	KindBoundaryTimerEvent          ElementKind = "boundaryTimerEvent"
	KindTask                        ElementKind = "task"
	KindUserTask                    ElementKind = "userTask"
	KindServiceTask                 ElementKind = "serviceTask"
	KindScriptTask                  ElementKind = "scriptTask"
	KindSendTask                    ElementKind = "sendTask"
	KindReceiveTask                 ElementKind = "receiveTask"
	KindManualTask                  ElementKind = "manualTask"
	KindBusinessRuleTask            ElementKind = "businessRuleTask"
	KindAgenticTask                 ElementKind = "agenticTask"
	KindSubProcess                  ElementKind = "subProcess"
	KindCallActivity                ElementKind = "callActivity"
	KindExclusiveGateway            ElementKind = "exclusiveGateway"
	KindParallelGateway             ElementKind = "parallelGateway"
	KindInclusiveGateway            ElementKind = "inclusiveGateway"
)

// knownKinds is the set of element kinds the loader accepts.
var knownKinds = map[ElementKind]bool{
	KindStartEvent: true, KindEndEvent: true, KindIntermediateEvent: true,
	KindTimerIntermediateCatchEvent: true, KindBoundaryTimerEvent: true,
	KindTask: true, KindUserTask: true, KindServiceTask: true,
	KindScriptTask: true, KindSendTask: true, KindReceiveTask: true,
	KindManualTask: true, KindBusinessRuleTask: true, KindAgenticTask: true,
	KindSubProcess: true, KindCallActivity: true,
	KindExclusiveGateway: true, KindParallelGateway: true, KindInclusiveGateway: true,
}

// Properties is the free-form per-element property bag from the modeler.
type Properties map[string]any

// String returns the property as a string ("" when absent or not a string).
func (p Properties) String(key string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Bool returns the property as a bool. Accepts bool and "true"/"false" strings.
func (p Properties) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// Float returns the property as a float64, or def when absent/unparseable.
func (p Properties) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Int returns the property as an int, or def when absent/unparseable.
func (p Properties) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Map returns a nested map property (e.g. "custom"), or nil.
func (p Properties) Map(key string) map[string]any {
	if v, ok := p[key].(map[string]any); ok {
		return v
	}
	return nil
}

// StringSlice returns a property that is a YAML list of strings.
func (p Properties) StringSlice(key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Lane is a swimlane inside a pool. Layout-only; the engine ignores geometry.
type Lane struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Pool is a process participant.
type Pool struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Lanes []Lane `yaml:"lanes"`
}

// Element is a single BPMN node.
type Element struct {
	ID            string       `yaml:"id"`
	Kind          ElementKind  `yaml:"type"`
	Name          string       `yaml:"name"`
	PoolID        string       `yaml:"poolId"`
	LaneID        string       `yaml:"laneId"`
	AttachedToRef string       `yaml:"attachedToRef"` // boundary events only
	Properties    Properties   `yaml:"properties"`
	Expanded      bool         `yaml:"expanded"`
	ChildElements []Element    `yaml:"childElements"`
	ChildConns    []Connection `yaml:"childConnections"`
}

// IsTask reports whether the element runs through a task executor.
func (e *Element) IsTask() bool {
	switch e.Kind {
	case KindTask, KindUserTask, KindServiceTask, KindScriptTask, KindSendTask,
		KindReceiveTask, KindManualTask, KindBusinessRuleTask, KindAgenticTask,
		KindSubProcess, KindCallActivity, KindTimerIntermediateCatchEvent:
		return true
	}
	return false
}

// IsGateway reports whether the element is a gateway.
func (e *Element) IsGateway() bool {
	switch e.Kind {
	case KindExclusiveGateway, KindParallelGateway, KindInclusiveGateway:
		return true
	}
	return false
}

// IsEvent reports whether the element is a plain event.
func (e *Element) IsEvent() bool {
	switch e.Kind {
	case KindStartEvent, KindEndEvent, KindIntermediateEvent:
		return true
	}
	return false
}

// Connection is a sequence flow between two elements.
// The display Name is never interpreted by the engine; only
// properties.condition participates in gateway decisions.
type Connection struct {
	ID         string     `yaml:"id"`
	Name       string     `yaml:"name"`
	From       string     `yaml:"from"`
	To         string     `yaml:"to"`
	Properties Properties `yaml:"properties"`
}

// Condition returns the explicit flow condition ("" = default/unconditional).
func (c *Connection) Condition() string {
	return c.Properties.String("condition")
}

// Process is a BPMN process graph. Element and connection order is
// significant: exclusive gateway evaluation follows connection order.
type Process struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Pools       []Pool       `yaml:"pools"`
	Elements    []Element    `yaml:"elements"`
	Connections []Connection `yaml:"connections"`
}

// Definition is a complete loaded workflow definition.
type Definition struct {
	Process Process `yaml:"process"`

	elementsByID map[string]*Element
}

// ElementByID returns the element with the given id, searching sub-process
// children as well. Returns nil when not found.
func (d *Definition) ElementByID(id string) *Element {
	return d.elementsByID[id]
}

// StartEvent returns the top-level start event.
func (d *Definition) StartEvent() *Element {
	for i := range d.Process.Elements {
		if d.Process.Elements[i].Kind == KindStartEvent {
			return &d.Process.Elements[i]
		}
	}
	return nil
}

// OutgoingConnections returns the sequence flows leaving the element, in
// definition order.
func (d *Definition) OutgoingConnections(elementID string) []Connection {
	var out []Connection
	for _, c := range d.Process.Connections {
		if c.From == elementID {
			out = append(out, c)
		}
	}
	return out
}

// IncomingConnections returns the sequence flows entering the element.
func (d *Definition) IncomingConnections(elementID string) []Connection {
	var in []Connection
	for _, c := range d.Process.Connections {
		if c.To == elementID {
			in = append(in, c)
		}
	}
	return in
}

// OutgoingElements returns the target elements of all flows leaving the
// element, in definition order.
func (d *Definition) OutgoingElements(elementID string) []*Element {
	var out []*Element
	for _, c := range d.OutgoingConnections(elementID) {
		if target := d.ElementByID(c.To); target != nil {
			out = append(out, target)
		}
	}
	return out
}

// BoundaryEvents returns boundary events attached to the given activity.
func (d *Definition) BoundaryEvents(activityID string) []*Element {
	var out []*Element
	for i := range d.Process.Elements {
		e := &d.Process.Elements[i]
		if e.Kind == KindBoundaryTimerEvent && e.AttachedToRef == activityID {
			out = append(out, e)
		}
	}
	return out
}

// ChildDefinition wraps an expanded sub-process's child graph as an ordinary
// nested definition so the scheduler can recurse into it.
func (d *Definition) ChildDefinition(sub *Element) *Definition {
	child := &Definition{
		Process: Process{
			ID:          sub.ID,
			Name:        sub.Name,
			Elements:    sub.ChildElements,
			Connections: sub.ChildConns,
		},
	}
	child.Index()
	return child
}

// Index builds the element lookup map, descending into sub-processes.
// Load calls it automatically; definitions constructed in code must call it
// before lookups.
func (d *Definition) Index() {
	d.elementsByID = make(map[string]*Element)
	var walk func(elems []Element)
	walk = func(elems []Element) {
		for i := range elems {
			e := &elems[i]
			d.elementsByID[e.ID] = e
			if len(e.ChildElements) > 0 {
				walk(e.ChildElements)
			}
		}
	}
	walk(d.Process.Elements)
}
