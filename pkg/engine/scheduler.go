package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowforge-io/flowforge/pkg/correlation"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/executor"
	"github.com/flowforge-io/flowforge/pkg/gateway"
	"github.com/flowforge-io/flowforge/pkg/model"
	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// DefaultDeadlockTimeout is how long a join gateway may sit with partial
// arrivals before the deadlock monitor declares it stuck.
const DefaultDeadlockTimeout = 30 * time.Second

// scheduler runs one definition (top-level process or nested sub-process
// graph) for one instance. Every live token is a goroutine walking the graph;
// tokens park at join gateways until the join's live incoming branches have
// all arrived.
type scheduler struct {
	inst     *Instance
	def      *model.Definition
	store    *procctx.Store
	registry *executor.Registry
	gateways *gateway.Evaluator
	pub      events.Publisher
	logger   *slog.Logger

	deadlockTimeout time.Duration

	mu           sync.Mutex
	pending      *sync.Cond
	joinArrivals map[string][]string // join id → incoming element ids that arrived
	joinTimers   map[string]*time.Timer
	skipped      map[string]bool
	failure      error

	wg sync.WaitGroup
}

func newScheduler(inst *Instance, def *model.Definition, store *procctx.Store,
	registry *executor.Registry, gateways *gateway.Evaluator, pub events.Publisher,
	deadlockTimeout time.Duration, logger *slog.Logger) *scheduler {

	if deadlockTimeout <= 0 {
		deadlockTimeout = DefaultDeadlockTimeout
	}
	s := &scheduler{
		inst:            inst,
		def:             def,
		store:           store,
		registry:        registry,
		gateways:        gateways,
		pub:             pub,
		logger:          logger,
		deadlockTimeout: deadlockTimeout,
		joinArrivals:    make(map[string][]string),
		joinTimers:      make(map[string]*time.Timer),
		skipped:         make(map[string]bool),
	}
	s.pending = sync.NewCond(&s.mu)
	return s
}

// run drives the definition from its start event until every token retires
// and no join is left parked. Returns the first recorded failure, or the
// context error when the instance was cancelled.
func (s *scheduler) run(ctx context.Context) error {
	start := s.def.StartEvent()
	if start == nil {
		return fmt.Errorf("process %s has no start event", s.def.Process.ID)
	}

	s.spawn(ctx, start.ID, "", false)
	s.wg.Wait()
	s.awaitParkedJoins(ctx)

	s.mu.Lock()
	failure := s.failure
	s.mu.Unlock()
	if failure != nil {
		return failure
	}
	return ctx.Err()
}

// awaitParkedJoins blocks until every parked join has either been released
// (a skipped-path recount completed it) or reported as deadlocked.
func (s *scheduler) awaitParkedJoins(ctx context.Context) {
	unwatch := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.pending.Broadcast()
		s.mu.Unlock()
	})
	defer unwatch()

	s.mu.Lock()
	for len(s.joinArrivals) > 0 && ctx.Err() == nil {
		s.pending.Wait()
	}
	for id, t := range s.joinTimers {
		t.Stop()
		delete(s.joinTimers, id)
	}
	s.mu.Unlock()

	// joins released here spawned fresh tokens; let them finish too
	s.wg.Wait()
}

func (s *scheduler) spawn(ctx context.Context, elementID, from string, merged bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runToken(ctx, elementID, from, merged)
	}()
}

// runToken walks one token through the graph. A fork hands all but the first
// outgoing flow to fresh goroutines and continues down the first itself.
func (s *scheduler) runToken(ctx context.Context, elementID, from string, merged bool) {
	for elementID != "" {
		if ctx.Err() != nil {
			return
		}
		el := s.def.ElementByID(elementID)
		if el == nil {
			s.fail(fmt.Errorf("sequence flow references unknown element %q", elementID))
			return
		}

		if !merged && s.isJoin(el) && !s.arrive(el, from) {
			return // token absorbed by the join; the last arrival carries on
		}
		merged = false

		next := s.executeElement(ctx, el)
		if len(next) == 0 {
			return
		}
		from = el.ID
		for _, id := range next[1:] {
			s.spawn(ctx, id, from, false)
		}
		elementID = next[0]
	}
}

// isJoin reports whether the element synchronizes multiple incoming flows.
func (s *scheduler) isJoin(el *model.Element) bool {
	if el.Kind != model.KindParallelGateway && el.Kind != model.KindInclusiveGateway {
		return false
	}
	return len(s.def.IncomingConnections(el.ID)) > 1
}

// arrive records one incoming token at a join. Returns true when the join is
// now complete and the calling token should execute it; otherwise the token
// parks (retires) and the deadlock timer covers the join.
func (s *scheduler) arrive(el *model.Element, from string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.joinArrivals[el.ID], from) {
		s.joinArrivals[el.ID] = append(s.joinArrivals[el.ID], from)
	}
	if s.joinCompleteLocked(el) {
		s.releaseJoinLocked(el.ID)
		return true
	}
	if _, ok := s.joinTimers[el.ID]; !ok {
		s.joinTimers[el.ID] = time.AfterFunc(s.deadlockTimeout, func() { s.reportDeadlock(el) })
	}
	return false
}

// joinCompleteLocked reports whether every live (non-skipped) incoming branch
// has arrived. Inclusive joins shrink their expectation as upstream gateways
// skip branches.
func (s *scheduler) joinCompleteLocked(el *model.Element) bool {
	arrived := s.joinArrivals[el.ID]
	for _, c := range s.def.IncomingConnections(el.ID) {
		if s.skipped[c.From] {
			continue
		}
		if !slices.Contains(arrived, c.From) {
			return false
		}
	}
	return true
}

func (s *scheduler) releaseJoinLocked(joinID string) {
	delete(s.joinArrivals, joinID)
	if t, ok := s.joinTimers[joinID]; ok {
		t.Stop()
		delete(s.joinTimers, joinID)
	}
	s.pending.Broadcast()
}

// reportDeadlock fires when a join sat with partial arrivals for the full
// deadlock timeout. The diagnostic names the join, the branches that made it
// and the branches still outstanding, then the instance fails.
func (s *scheduler) reportDeadlock(el *model.Element) {
	s.mu.Lock()
	arrived, ok := s.joinArrivals[el.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.joinArrivals, el.ID)
	delete(s.joinTimers, el.ID)

	var missing []string
	for _, c := range s.def.IncomingConnections(el.ID) {
		if !s.skipped[c.From] && !slices.Contains(arrived, c.From) {
			missing = append(missing, c.From)
		}
	}
	err := fmt.Errorf("join %s deadlocked after %s: arrived from [%s], still waiting on [%s]",
		el.ID, s.deadlockTimeout, strings.Join(arrived, ", "), strings.Join(missing, ", "))
	if s.failure == nil {
		s.failure = err
	}
	s.pending.Broadcast()
	s.mu.Unlock()

	s.logger.Error("join gateway deadlocked",
		"joinId", el.ID, "arrived", arrived, "missing", missing)
	s.pub.Publish(events.EventTaskError, el.ID, events.TaskErrorPayload{
		Type:      events.EventTaskError,
		ElementID: el.ID,
		Message:   err.Error(),
		ErrorType: "Deadlock",
		Timestamp: events.Timestamp(),
	})
}

// executeElement runs one element and returns the element ids the token
// continues to. An empty return retires the token.
func (s *scheduler) executeElement(ctx context.Context, el *model.Element) []string {
	s.inst.enter(el.ID)
	defer s.inst.leave(el.ID)

	s.pub.Publish(events.EventElementActivated, el.ID, events.ElementActivatedPayload{
		Type:               events.EventElementActivated,
		WorkflowInstanceID: s.inst.ID,
		ElementID:          el.ID,
		ElementType:        string(el.Kind),
		ElementName:        el.Name,
		Timestamp:          events.Timestamp(),
	})
	start := time.Now()

	if el.IsGateway() {
		return s.routeGateway(ctx, el, start)
	}

	exec, err := s.registry.Lookup(el.Kind)
	if err != nil {
		s.reportElementError(el, err)
		s.publishCompleted(el, "failed", time.Since(start).Milliseconds())
		s.fail(err)
		return nil
	}

	boundary, err := s.runWithBoundaries(ctx, el, exec)
	duration := time.Since(start).Milliseconds()

	switch {
	case boundary != nil:
		// an interrupting boundary timer cut the activity short; the token
		// continues along the boundary's outgoing flows
		s.publishCompleted(el, "cancelled", duration)
		return s.fireBoundary(boundary)

	case err == nil:
		s.publishCompleted(el, "completed", duration)
		if el.Kind == model.KindEndEvent {
			if endEventIndicatesFailure(el) {
				s.fail(fmt.Errorf("end event %q signals a failure outcome", elementLabel(el)))
			}
			return nil
		}
		return s.successors(el)

	case errors.Is(err, context.Canceled):
		if ctx.Err() != nil {
			// whole-instance cancellation: stop here, activate nothing
			s.publishCompleted(el, "cancelled", duration)
			return nil
		}
		// element-level cancellation: record it and keep the flow moving
		var ce *executor.CancelledError
		partial := ""
		if errors.As(err, &ce) {
			partial = ce.PartialContent
		}
		s.pub.Publish(events.EventTaskCancelled, el.ID, events.TaskCancelledPayload{
			Type:           events.EventTaskCancelled,
			ElementID:      el.ID,
			TaskID:         el.ID,
			PartialContent: partial,
			Timestamp:      events.Timestamp(),
		})
		s.publishCompleted(el, "cancelled", duration)
		return s.successors(el)

	default:
		// the failing token retires; other branches run on and any join
		// they feed is left to the deadlock monitor to diagnose
		s.reportElementError(el, err)
		s.publishCompleted(el, "failed", duration)
		s.fail(err)
		return nil
	}
}

// runWithBoundaries executes the element, racing it against any attached
// boundary timers. An interrupting timer (cancelActivity, the default)
// cancels the activity and is returned as the fired boundary; a
// non-interrupting timer spawns tokens on its outgoing flows while the
// activity keeps running.
func (s *scheduler) runWithBoundaries(ctx context.Context, el *model.Element, exec executor.Executor) (*model.Element, error) {
	act := &executor.Activation{
		InstanceID: s.inst.ID,
		Definition: s.def,
		Element:    el,
		Context:    s.store,
	}

	boundaries := s.def.BoundaryEvents(el.ID)
	if len(boundaries) == 0 {
		return nil, exec.Execute(ctx, act)
	}

	actCtx, cancelActivity := context.WithCancel(ctx)
	defer cancelActivity()

	var interrupted atomic.Pointer[model.Element]
	done := make(chan struct{})
	var timers sync.WaitGroup

	for _, b := range boundaries {
		spec, err := executor.ParseTimer(b.Properties, s.store)
		if err != nil {
			s.logger.Warn("ignoring boundary event with invalid timer",
				"boundaryId", b.ID, "error", err)
			continue
		}
		timers.Add(1)
		go func(b *model.Element, delay time.Duration) {
			defer timers.Done()
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
				if interruptsActivity(b) {
					interrupted.CompareAndSwap(nil, b)
					cancelActivity()
				} else {
					for _, id := range s.fireBoundary(b) {
						s.spawn(ctx, id, b.ID, false)
					}
				}
			case <-done:
			case <-actCtx.Done():
			}
		}(b, spec.Delay(time.Now()))
	}

	err := exec.Execute(actCtx, act)
	close(done)
	timers.Wait()

	// honor the interruption only when the activity actually stopped on it;
	// a timer that fired in the same instant the activity completed is lost
	if b := interrupted.Load(); b != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return b, nil
	}
	return nil, err
}

// fireBoundary publishes the boundary event's own lifecycle and returns its
// outgoing targets.
func (s *scheduler) fireBoundary(b *model.Element) []string {
	now := events.Timestamp()
	s.pub.Publish(events.EventElementActivated, b.ID, events.ElementActivatedPayload{
		Type:               events.EventElementActivated,
		WorkflowInstanceID: s.inst.ID,
		ElementID:          b.ID,
		ElementType:        string(b.Kind),
		ElementName:        b.Name,
		Timestamp:          now,
	})
	s.publishCompleted(b, "completed", 0)
	s.logger.Info("boundary timer fired", "boundaryId", b.ID, "attachedTo", b.AttachedToRef)
	return s.successors(b)
}

// interruptsActivity reports whether the boundary cancels its host activity
// when it fires. Absent the property, boundary timers interrupt.
func interruptsActivity(b *model.Element) bool {
	if _, ok := b.Properties["cancelActivity"]; !ok {
		return true
	}
	return b.Properties.Bool("cancelActivity")
}

// routeGateway evaluates a gateway and returns the targets of its taken
// flows.
func (s *scheduler) routeGateway(ctx context.Context, el *model.Element, start time.Time) []string {
	dec, err := s.gateways.Evaluate(s.def, el, s.store)
	if err != nil {
		s.reportElementError(el, err)
		s.publishCompleted(el, "failed", time.Since(start).Milliseconds())
		s.fail(err)
		return nil
	}

	conditions := make([]events.FlowCondition, 0, len(dec.Evaluations))
	for _, ev := range dec.Evaluations {
		conditions = append(conditions, events.FlowCondition{
			ConnectionID: ev.ConnectionID,
			Condition:    ev.Condition,
			IsDefault:    ev.IsDefault,
			Matched:      ev.Matched,
		})
	}
	s.pub.Publish(events.EventGatewayEvaluating, el.ID, events.GatewayEvaluatingPayload{
		Type:        events.EventGatewayEvaluating,
		ElementID:   el.ID,
		GatewayType: string(el.Kind),
		Conditions:  conditions,
		Timestamp:   events.Timestamp(),
	})
	s.pub.Publish(events.EventGatewayPathTaken, el.ID, events.GatewayPathTakenPayload{
		Type:         events.EventGatewayPathTaken,
		ElementID:    el.ID,
		GatewayType:  string(el.Kind),
		TakenFlows:   connectionIDs(dec.Taken),
		SkippedFlows: connectionIDs(dec.NotTaken),
		Timestamp:    events.Timestamp(),
	})

	s.markSkippedPaths(ctx, dec)
	s.publishCompleted(el, "completed", time.Since(start).Milliseconds())

	next := make([]string, 0, len(dec.Taken))
	for _, c := range dec.Taken {
		next = append(next, c.To)
	}
	return next
}

// markSkippedPaths marks every element reachable only through not-taken
// flows as skipped, emits their skipped completions, and releases any parked
// join whose outstanding branches just became dead.
func (s *scheduler) markSkippedPaths(ctx context.Context, dec *gateway.Decision) {
	if len(dec.NotTaken) == 0 {
		return
	}
	liveReach := s.reachableFrom(connectionTargets(dec.Taken))
	deadReach := s.reachableFrom(connectionTargets(dec.NotTaken))

	var newlySkipped []string
	var released []*model.Element

	s.mu.Lock()
	for id := range deadReach {
		if liveReach[id] || s.skipped[id] {
			continue
		}
		s.skipped[id] = true
		newlySkipped = append(newlySkipped, id)
	}
	for joinID := range s.joinArrivals {
		join := s.def.ElementByID(joinID)
		if join != nil && s.joinCompleteLocked(join) {
			s.releaseJoinLocked(joinID)
			released = append(released, join)
		}
	}
	s.mu.Unlock()

	slices.Sort(newlySkipped)
	for _, id := range newlySkipped {
		if el := s.def.ElementByID(id); el != nil {
			s.publishCompleted(el, "skipped", 0)
		}
	}
	for _, join := range released {
		s.spawn(ctx, join.ID, "", true)
	}
}

// reachableFrom walks sequence flows forward from the seed elements.
func (s *scheduler) reachableFrom(seeds []string) map[string]bool {
	seen := make(map[string]bool)
	queue := slices.Clone(seeds)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, c := range s.def.OutgoingConnections(id) {
			queue = append(queue, c.To)
		}
	}
	return seen
}

func (s *scheduler) successors(el *model.Element) []string {
	conns := s.def.OutgoingConnections(el.ID)
	next := make([]string, 0, len(conns))
	for _, c := range conns {
		next = append(next, c.To)
	}
	return next
}

func (s *scheduler) publishCompleted(el *model.Element, status string, durationMs int64) {
	s.pub.Publish(events.EventElementCompleted, el.ID, events.ElementCompletedPayload{
		Type:               events.EventElementCompleted,
		WorkflowInstanceID: s.inst.ID,
		ElementID:          el.ID,
		ElementType:        string(el.Kind),
		Status:             status,
		DurationMs:         durationMs,
		Timestamp:          events.Timestamp(),
	})
}

func (s *scheduler) reportElementError(el *model.Element, err error) {
	errorType, retryable := classifyError(err)
	s.logger.Error("element failed",
		"elementId", el.ID, "errorType", errorType, "error", err)
	s.pub.Publish(events.EventTaskError, el.ID, events.TaskErrorPayload{
		Type:      events.EventTaskError,
		ElementID: el.ID,
		Message:   err.Error(),
		ErrorType: errorType,
		Retryable: retryable,
		Timestamp: events.Timestamp(),
	})
}

// fail records the first failure; later ones are logged by their elements
// but do not overwrite it.
func (s *scheduler) fail(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
}

// classifyError maps an executor error to the wire error taxonomy.
func classifyError(err error) (errorType string, retryable bool) {
	var noPath *gateway.NoMatchingPathError
	switch {
	case errors.Is(err, executor.ErrReceiveTimeout):
		return "ReceiveTimeout", true
	case errors.Is(err, executor.ErrLowConfidence):
		return "LowConfidence", true
	case errors.Is(err, executor.ErrUserTaskRejected):
		return "UserTaskRejected", false
	case errors.Is(err, correlation.ErrDuplicateWaiter):
		return "DuplicateWaiter", false
	case errors.As(err, &noPath):
		return "NoMatchingPath", false
	case errors.Is(err, executor.ErrNoExecutor):
		return "MalformedDefinition", false
	}
	return "ExecutorException", false
}

var failureEndName = regexp.MustCompile(`(?i)\b(fail|failed|failure|reject|rejected|denied|error)\b`)

// endEventIndicatesFailure reports whether reaching this end event should
// mark the instance failed: an explicit outcome property, or a name that
// clearly labels the failure path.
func endEventIndicatesFailure(el *model.Element) bool {
	if el.Properties.String("outcome") == "failed" {
		return true
	}
	return failureEndName.MatchString(el.Name)
}

func elementLabel(el *model.Element) string {
	if el.Name != "" {
		return el.Name
	}
	return el.ID
}

func connectionIDs(conns []model.Connection) []string {
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID)
	}
	return ids
}

func connectionTargets(conns []model.Connection) []string {
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.To)
	}
	return ids
}
