// Tracing instrumentation for the loop.
package loop

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"github.com/vinayprograms/taskloop/internal/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startRunSpan starts a span for a whole session.
func (l *Loop) startRunSpan(ctx context.Context, sess *session.Session) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "session.run")
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int("loop.max_steps", l.cfg.MaxSteps),
	)
	if tracer.Debug() {
		span.SetAttributes(attribute.String("session.query", truncate(sess.OriginalQuery, 2000)))
	}
	return ctx, span
}

// endRunSpan ends the session span with its outcome.
func (l *Loop) endRunSpan(span trace.Span, r *run) {
	span.SetAttributes(
		attribute.Bool("session.goal_achieved", r.sess.State.GoalAchieved),
		attribute.Int("session.steps", r.totalSteps),
		attribute.Int("session.retries", r.retryCount),
		attribute.Int("session.plan_versions", len(r.sess.PlanVersions)),
	)
	tracer := telemetry.GetTracer()
	if tracer.Debug() && r.sess.State.FinalAnswer != "" {
		span.SetAttributes(attribute.String("session.answer", truncate(r.sess.State.FinalAnswer, 2000)))
	}
	span.End()
}

// startPhaseSpan starts a span for one loop phase.
func startPhaseSpan(ctx context.Context, phase, sessionID string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "phase."+phase)
	span.SetAttributes(
		attribute.String("phase.name", phase),
		attribute.String("session.id", sessionID),
	)
	return ctx, span
}

// endPhaseSpan ends the phase span.
func endPhaseSpan(span trace.Span, attrs map[string]string, err error) {
	for k, v := range attrs {
		span.SetAttributes(attribute.String(k, v))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
