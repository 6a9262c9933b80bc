// Package drill runs consistency experiments against a live library server.
// An experiment checks a steady state, injects a burst of concurrent
// traffic, observes the system for a while, rolls back what it created and
// finally validates its hypothesis against the last observations.
package drill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librarydesk/internal/lib/sl"
)

// ErrSteadyState aborts an experiment whose preconditions do not hold.
var ErrSteadyState = errors.New("steady state invalid, experiment aborted")

// Experiment is one consistency drill.
type Experiment struct {
	Name       string
	Hypothesis string
	// SteadyState must hold before the method runs and is sampled while
	// observing.
	SteadyState []Probe
	// Measures are sampled only while observing.
	Measures   []Probe
	Method     []Action
	Rollback   []Action
	Validation []Assertion
}

// Probe measures one property of the running system.
type Probe struct {
	Name      string
	Query     func(ctx context.Context) (float64, error)
	Threshold Threshold
}

// Threshold is the condition a steady-state probe must meet.
type Threshold struct {
	Op    string // >, <, >=, <=, ==
	Value float64
}

func (t Threshold) holds(v float64) bool {
	switch t.Op {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

// Action injects traffic or undoes it.
type Action struct {
	Name    string
	Execute func(ctx context.Context) error
}

// Assertion checks the final observation of a probe.
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

// Result is what one run of an experiment observed.
type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"startTime"`
	EndTime          time.Time              `json:"endTime"`
	Duration         time.Duration          `json:"duration"`
	SteadyStateValid bool                   `json:"steadyStateValid"`
	HypothesisHeld   bool                   `json:"hypothesisHeld"`
	Violations       []Violation            `json:"violations"`
	Failed           []string               `json:"failed"`
	Observations     map[string][]DataPoint `json:"observations"`
	Errors           []ErrorEvent           `json:"errors"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  Threshold `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Error     string    `json:"error"`
}

// Engine runs registered experiments one after another.
type Engine struct {
	tracer   trace.Tracer
	log      *slog.Logger
	window   time.Duration
	interval time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

type Option func(*Engine)

// WithObservation sets how long each experiment is observed after its method
// and how often probes are sampled meanwhile.
func WithObservation(window, interval time.Duration) Option {
	return func(e *Engine) {
		if window <= 0 {
			return
		}
		if interval <= 0 || interval > window {
			interval = window
		}
		e.window = window
		e.interval = interval
	}
}

func NewEngine(log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		tracer:   otel.Tracer("librarydesk/drill"),
		log:      log.With(slog.String("component", "drill")),
		window:   3 * time.Second,
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns every completed run so far.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes exp. A steady state that does not hold returns ErrSteadyState
// together with the partial result.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "drill.run",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	log := e.log.With(slog.String("experiment", exp.Name))
	res := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Violations:   []Violation{},
		Failed:       []string{},
		Observations: make(map[string][]DataPoint),
		Errors:       []ErrorEvent{},
	}

	span.AddEvent("steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		res.Violations = violations
		res.EndTime = time.Now()
		res.Duration = res.EndTime.Sub(res.StartTime)
		return res, ErrSteadyState
	}
	res.SteadyStateValid = true

	span.AddEvent("method")
	for _, a := range exp.Method {
		if err := a.Execute(ctx); err != nil {
			log.Warn("method action failed", slog.String("action", a.Name), sl.Err(err))
			res.recordError(a.Name, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("observe")
	e.observe(ctx, exp, res)

	span.AddEvent("rollback")
	for _, a := range exp.Rollback {
		if err := a.Execute(ctx); err != nil {
			log.Warn("rollback action failed", slog.String("action", a.Name), sl.Err(err))
			res.recordError(a.Name, err)
			span.RecordError(err)
		}
	}

	res.Failed = validate(exp.Validation, res)
	res.HypothesisHeld = len(res.Failed) == 0
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *res)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", res.HypothesisHeld),
		attribute.Int("violations", len(res.Violations)),
	)
	log.Info("experiment finished",
		slog.Bool("hypothesis_held", res.HypothesisHeld),
		slog.Int("violations", len(res.Violations)),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// observe samples every probe once right away and then on each tick until
// the window closes.
func (e *Engine) observe(ctx context.Context, exp Experiment, res *Result) {
	window, cancel := context.WithTimeout(ctx, e.window)
	defer cancel()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		e.sample(ctx, exp, res)
		select {
		case <-window.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) sample(ctx context.Context, exp Experiment, res *Result) {
	now := time.Now()
	for _, p := range exp.SteadyState {
		v, err := p.Query(ctx)
		if err != nil {
			res.recordError(p.Name, err)
			continue
		}
		res.Observations[p.Name] = append(res.Observations[p.Name], DataPoint{Timestamp: now, Value: v})
		if !p.Threshold.holds(v) {
			res.Violations = append(res.Violations, Violation{Probe: p.Name, Expected: p.Threshold, Actual: v, Timestamp: now})
		}
	}
	for _, p := range exp.Measures {
		v, err := p.Query(ctx)
		if err != nil {
			res.recordError(p.Name, err)
			continue
		}
		res.Observations[p.Name] = append(res.Observations[p.Name], DataPoint{Timestamp: now, Value: v})
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, p := range probes {
		v, err := p.Query(ctx)
		if err != nil {
			e.log.Warn("steady state probe failed", slog.String("probe", p.Name), sl.Err(err))
			v = -1
		}
		if err != nil || !p.Threshold.holds(v) {
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold, Actual: v, Timestamp: time.Now()})
		}
	}
	return violations
}

func (r *Result) recordError(source string, err error) {
	r.Errors = append(r.Errors, ErrorEvent{Timestamp: time.Now(), Source: source, Error: err.Error()})
}

// validate returns the messages of the assertions that failed.
func validate(assertions []Assertion, res *Result) []string {
	failed := []string{}
	for _, a := range assertions {
		obs := res.Observations[a.Probe]
		if len(obs) == 0 {
			failed = append(failed, a.Message+" (no observations)")
			continue
		}
		if !a.Condition(obs[len(obs)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// RunAll runs every registered experiment and writes a report to w. It stops
// early only when ctx ends.
func (e *Engine) RunAll(ctx context.Context, w io.Writer) ([]Result, error) {
	ctx, span := e.tracer.Start(ctx, "drill.run_all")
	defer span.End()

	var out []Result
	experiments := e.Experiments()
	for i, exp := range experiments {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		fmt.Fprintf(w, "\n[%d/%d] %s\n  hypothesis: %s\n", i+1, len(experiments), exp.Name, exp.Hypothesis)

		res, err := e.Run(ctx, exp)
		if err != nil {
			fmt.Fprintf(w, "  aborted: %v\n", err)
			for _, v := range res.Violations {
				fmt.Fprintf(w, "    %s: expected %s %.0f, got %.0f\n", v.Probe, v.Expected.Op, v.Expected.Value, v.Actual)
			}
			out = append(out, *res)
			continue
		}
		report(w, res)
		out = append(out, *res)
	}
	return out, nil
}

func report(w io.Writer, res *Result) {
	if res.HypothesisHeld {
		fmt.Fprintf(w, "  PASS hypothesis held\n")
	} else {
		fmt.Fprintf(w, "  FAIL hypothesis violated\n")
	}
	for _, msg := range res.Failed {
		fmt.Fprintf(w, "    - %s\n", msg)
	}
	if len(res.Violations) > 0 {
		fmt.Fprintf(w, "  steady state violations: %d\n", len(res.Violations))
	}
	for _, ev := range res.Errors {
		fmt.Fprintf(w, "  error in %s: %s\n", ev.Source, ev.Error)
	}
	fmt.Fprintf(w, "  duration: %s\n", res.Duration.Round(time.Millisecond))
}
