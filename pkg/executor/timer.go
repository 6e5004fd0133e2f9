package executor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flowforge-io/flowforge/pkg/condition"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/model"
	"github.com/flowforge-io/flowforge/pkg/procctx"
)

// Timer kinds.
const (
	TimerDuration = "duration"
	TimerDate     = "date"
	TimerCycle    = "cycle"
)

// TimerSpec is a parsed timer definition. The scheduler uses it for boundary
// timers as well.
type TimerSpec struct {
	Kind        string
	Duration    time.Duration // duration and cycle
	Date        time.Time     // date only
	Repetitions int           // cycle only; 0 = unbounded
}

// Delay returns how long to wait from now until the timer's first firing.
func (s *TimerSpec) Delay(now time.Time) time.Duration {
	if s.Kind == TimerDate {
		d := s.Date.Sub(now)
		if d < 0 {
			return 0
		}
		return d
	}
	return s.Duration
}

// Wait sleeps until the timer fires or the context is cancelled.
func (s *TimerSpec) Wait(ctx context.Context) error {
	timer := time.NewTimer(s.Delay(time.Now()))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParseTimer reads the timer properties of an element, resolving ${...}
// templates against the context.
func ParseTimer(props model.Properties, store *procctx.Store) (*TimerSpec, error) {
	timerType := props.String("timerType")
	if timerType == "" {
		timerType = TimerDuration
	}

	switch timerType {
	case TimerDuration:
		raw := condition.Resolve(props.String("timerDuration"), store)
		d, err := ParseISODuration(raw)
		if err != nil {
			return nil, err
		}
		return &TimerSpec{Kind: TimerDuration, Duration: d}, nil

	case TimerDate:
		raw := condition.Resolve(props.String("timerDate"), store)
		date, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timer date %q: %w", raw, err)
		}
		return &TimerSpec{Kind: TimerDate, Date: date}, nil

	case TimerCycle:
		raw := condition.Resolve(props.String("timerCycle"), store)
		return parseCycle(raw)

	default:
		return nil, fmt.Errorf("unsupported timer type %q", timerType)
	}
}

// parseCycle parses R{n}/PT{duration} (n omitted = unbounded).
func parseCycle(raw string) (*TimerSpec, error) {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "R") {
		return nil, fmt.Errorf("invalid timer cycle %q", raw)
	}

	reps := 0
	if countStr := parts[0][1:]; countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid repetition count in cycle %q", raw)
		}
		reps = n
	}

	d, err := ParseISODuration(parts[1])
	if err != nil {
		return nil, err
	}
	return &TimerSpec{Kind: TimerCycle, Duration: d, Repetitions: reps}, nil
}

var isoDurationRe = regexp.MustCompile(
	`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses an ISO-8601-like duration such as PT30S, PT1H30M
// or P2DT4H. Plain Go durations ("30s", "1h") are accepted as a convenience
// for hand-written definitions.
func ParseISODuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty timer duration")
	}

	if !strings.HasPrefix(raw, "P") {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid timer duration %q: %w", raw, err)
		}
		return d, nil
	}

	m := isoDurationRe.FindStringSubmatch(raw)
	if m == nil || raw == "P" || raw == "PT" {
		return 0, fmt.Errorf("invalid timer duration %q", raw)
	}

	var total time.Duration
	if m[1] != "" {
		weeks, _ := strconv.Atoi(m[1])
		total += time.Duration(weeks) * 7 * 24 * time.Hour
	}
	if m[2] != "" {
		days, _ := strconv.Atoi(m[2])
		total += time.Duration(days) * 24 * time.Hour
	}
	if m[3] != "" {
		hours, _ := strconv.Atoi(m[3])
		total += time.Duration(hours) * time.Hour
	}
	if m[4] != "" {
		minutes, _ := strconv.Atoi(m[4])
		total += time.Duration(minutes) * time.Minute
	}
	if m[5] != "" {
		seconds, _ := strconv.ParseFloat(m[5], 64)
		total += time.Duration(seconds * float64(time.Second))
	}
	return total, nil
}

// timerExecutor sleeps interruptibly until the timer fires. A cycle timer
// completes the catch event after its first period; repetition is a modeling
// concern of loops around the element.
type timerExecutor struct {
	deps *Deps
}

func (e *timerExecutor) Execute(ctx context.Context, act *Activation) error {
	spec, err := ParseTimer(act.Element.Properties, act.Context)
	if err != nil {
		return fmt.Errorf("timer event %s: %w", act.Element.ID, err)
	}

	e.deps.Publisher.Publish(events.EventTaskProgress, act.Element.ID, events.TaskProgressPayload{
		Type:      events.EventTaskProgress,
		ElementID: act.Element.ID,
		Message:   fmt.Sprintf("timer armed for %s", spec.Delay(time.Now()).Round(time.Millisecond)),
		Timestamp: events.Timestamp(),
	})

	if err := spec.Wait(ctx); err != nil {
		return fmt.Errorf("timer event %s: %w", act.Element.ID, err)
	}
	return nil
}
