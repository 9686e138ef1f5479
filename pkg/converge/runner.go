package converge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/clientrb/pkg/attributes"
	"github.com/openfroyo/clientrb/pkg/render"
	"github.com/openfroyo/clientrb/pkg/telemetry"
)

// RunStatus is the final state of a converge.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ResourceReport records the outcome of one step.
type ResourceReport struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Action   string        `json:"action"`
	Changed  bool          `json:"changed"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Report summarizes a converge run.
type Report struct {
	RunID      string           `json:"run_id"`
	Target     string           `json:"target"`
	Sources    []string         `json:"sources,omitempty"`
	Status     RunStatus        `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	ConfigPath string           `json:"config_path,omitempty"`
	Digest     string           `json:"digest,omitempty"`
	Changed    bool             `json:"changed"`
	Reloaded   bool             `json:"reloaded"`
	Resources  []ResourceReport `json:"resources"`
	Error      string           `json:"error,omitempty"`
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, report *Report) error
}

// Runner renders client.rb and converges a target.
type Runner struct {
	target   Target
	renderer *render.Renderer
	tel      *telemetry.Telemetry
	recorder RunRecorder
	planOpts PlanOptions
	newID    func() string
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRenderer replaces the default renderer.
func WithRenderer(r *render.Renderer) RunnerOption {
	return func(rn *Runner) { rn.renderer = r }
}

// WithTelemetry sets metrics, tracing, and events.
func WithTelemetry(t *telemetry.Telemetry) RunnerOption {
	return func(rn *Runner) { rn.tel = t }
}

// WithRecorder persists every run.
func WithRecorder(rec RunRecorder) RunnerOption {
	return func(rn *Runner) { rn.recorder = rec }
}

// WithPlanOptions sets the options used to build each plan.
func WithPlanOptions(opts PlanOptions) RunnerOption {
	return func(rn *Runner) { rn.planOpts = opts }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RunnerOption {
	return func(rn *Runner) { rn.now = now }
}

// NewRunner creates a runner for target.
func NewRunner(target Target, opts ...RunnerOption) *Runner {
	r := &Runner{
		target:   target,
		renderer: render.New(),
		tel:      telemetry.Nop(),
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Preview is a render compared against the deployed file. Nothing is changed.
type Preview struct {
	Document    *render.Document
	Previous    []byte
	HadPrevious bool
	Decision    render.ChangeDecision
	Plan        *Plan
}

// ReloadWouldFire reports whether applying the preview would reload the agent.
func (p *Preview) ReloadWouldFire() bool {
	return p.Decision.Changed && p.Plan.ReloadEnabled
}

// Preview renders tree and compares it with the current client.rb.
func (r *Runner) Preview(ctx context.Context, tree *attributes.Tree) (*Preview, error) {
	doc, err := r.renderer.Render(tree)
	if err != nil {
		return nil, err
	}
	plan, err := BuildPlan(tree, doc, r.planOpts)
	if err != nil {
		return nil, err
	}
	previous, had, err := readIfExists(ctx, r.target, plan.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", plan.ConfigPath, err)
	}
	return &Preview{
		Document:    doc,
		Previous:    previous,
		HadPrevious: had,
		Decision:    render.Decide(doc, previous, had),
		Plan:        plan,
	}, nil
}

// Converge renders tree and applies the resulting plan. A render error
// returns before the target is touched. The report is returned even when
// the run fails.
func (r *Runner) Converge(ctx context.Context, tree *attributes.Tree, sources ...string) (*Report, error) {
	report := &Report{
		RunID:     r.newID(),
		Target:    r.target.Name(),
		Sources:   sources,
		StartedAt: r.now(),
	}
	ctx = r.tel.WithContext(ctx)
	ctx, span := r.tel.Tracer.StartConvergeSpan(ctx, report.RunID)
	defer span.End()

	log := telemetry.FromContext(ctx).NewComponentLogger("converge").WithRunID(report.RunID)
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		log = log.WithField("trace_id", traceID)
	}

	_ = r.tel.Events.PublishConvergeStarted(report.RunID, sources)
	log.WithFields(map[string]interface{}{
		"sources": sources,
		"target":  report.Target,
	}).Info("Converge started")

	err := r.converge(ctx, tree, report, log)

	report.FinishedAt = r.now()
	if err != nil {
		report.Status = RunFailed
		report.Error = err.Error()
		telemetry.RecordError(span, err)
		r.tel.Metrics.RecordError(errorKind(err))
		_ = r.tel.Events.PublishConvergeFailed(report.RunID, err)
		log.WithError(err).Error("Converge failed")
	} else {
		report.Status = RunSucceeded
		telemetry.RecordSuccess(span)
		r.tel.Metrics.RecordConvergeCompleted(report.FinishedAt)
		_ = r.tel.Events.PublishConvergeCompleted(report.RunID, report.Changed, report.Duration())
		log.WithFields(map[string]interface{}{
			"changed":  report.Changed,
			"reloaded": report.Reloaded,
		}).Infof("Converge completed in %s", report.Duration())
	}

	if r.recorder != nil {
		if recErr := r.recorder.RecordRun(ctx, report); recErr != nil {
			log.WithError(recErr).Warn("Failed to record run")
		}
	}
	return report, err
}

func (r *Runner) converge(ctx context.Context, tree *attributes.Tree, report *Report, log *telemetry.Logger) error {
	op := telemetry.StartOperation(ctx, "render")
	doc, err := r.renderer.Render(tree)
	op.End(err)
	if err != nil {
		r.tel.Metrics.RecordRender("error", op.Elapsed())
		return err
	}
	r.tel.Metrics.RecordRender("ok", op.Elapsed())
	report.Digest = doc.Digest()
	_ = r.tel.Events.PublishRendered(report.RunID, report.Digest, len(doc.Lines))
	log.WithFields(map[string]interface{}{
		"digest": report.Digest,
		"lines":  len(doc.Lines),
	}).Debug("Rendered client config")

	plan, err := BuildPlan(tree, doc, r.planOpts)
	if err != nil {
		return err
	}
	report.ConfigPath = plan.ConfigPath

	return r.apply(ctx, plan, report, log)
}

// apply runs the non-delayed steps in graph order, stopping at the first
// failure, then runs each notified delayed step once.
func (r *Runner) apply(ctx context.Context, plan *Plan, report *Report, log *telemetry.Logger) error {
	var queued []string
	isQueued := make(map[string]bool)

	order := plan.Graph.Order()
	for i, id := range order {
		step, _ := plan.Step(id)
		if step.Delayed {
			continue
		}
		if err := ctx.Err(); err != nil {
			r.skipRemaining(plan, order[i:], report)
			return err
		}

		res, err := r.applyStep(ctx, step, report, log)
		if err != nil {
			r.skipRemaining(plan, order[i+1:], report)
			return err
		}
		if !res.Changed {
			continue
		}
		for _, n := range step.Notifies {
			if !isQueued[n] {
				isQueued[n] = true
				queued = append(queued, n)
			}
		}
	}

	for _, id := range queued {
		step, _ := plan.Step(id)
		log.WithField("resource", id).Info("Running delayed notification")
		_, err := r.applyStep(ctx, step, report, log)
		if step.Type() == TypeReload {
			if err != nil {
				r.tel.Metrics.RecordReload("error")
				return err
			}
			r.tel.Metrics.RecordReload("ok")
			report.Reloaded = true
			_ = r.tel.Events.PublishReloadTriggered(report.RunID, id)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) applyStep(ctx context.Context, step *Step, report *Report, log *telemetry.Logger) (Result, error) {
	ctx, span := r.tel.Tracer.StartResourceSpan(ctx, step.ID(), step.Type())
	defer span.End()

	start := r.now()
	res, err := step.Apply(ctx, r.target)
	rr := ResourceReport{
		ID:       step.ID(),
		Type:     step.Type(),
		Action:   res.Action,
		Changed:  res.Changed,
		Duration: r.now().Sub(start),
	}

	if err != nil {
		rr.Action = "failed"
		rr.Error = err.Error()
		report.Resources = append(report.Resources, rr)
		telemetry.RecordError(span, err)
		_ = r.tel.Events.PublishResourceFailed(report.RunID, step.ID(), err)
		log.WithError(err).WithField("resource", step.ID()).Error("Resource failed")
		return res, err
	}

	span.SetAttributes(telemetry.AttrChanged.Bool(res.Changed))
	telemetry.RecordSuccess(span)
	report.Resources = append(report.Resources, rr)
	if res.Changed {
		report.Changed = true
	}
	r.tel.Metrics.RecordResourceApplied(step.Type(), res.Changed)
	_ = r.tel.Events.PublishResourceApplied(report.RunID, step.ID(), res.Action, res.Changed)
	log.WithFields(map[string]interface{}{
		"resource": step.ID(),
		"action":   res.Action,
		"changed":  res.Changed,
	}).Debug("Resource applied")
	return res, nil
}

func (r *Runner) skipRemaining(plan *Plan, ids []string, report *Report) {
	for _, id := range ids {
		step, _ := plan.Step(id)
		if step.Delayed {
			continue
		}
		report.Resources = append(report.Resources, ResourceReport{
			ID:      id,
			Type:    step.Type(),
			Action:  "skipped",
			Skipped: true,
		})
	}
}

// errorKind labels err for the errors_total metric.
func errorKind(err error) string {
	if kind := attributes.KindOf(err); kind != "" {
		return string(kind)
	}
	if code := CodeOf(err); code != "" {
		return code
	}
	return "unknown"
}
