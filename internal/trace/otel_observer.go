package trace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTELObserver maps the runtime's events to spans: session:start opens the
// root span, tool:start/complete/error bracket a child span each,
// session:end/error closes the root. WrapExecution lets the runtime run an
// LLM call under the session's active span context so provider SDK spans
// (if any) nest correctly underneath it.
type OTELObserver struct {
	tracer oteltrace.Tracer

	mu      sync.Mutex
	roots   map[string]rootSpan
	toolSet map[string]toolSpan
}

type rootSpan struct {
	ctx  context.Context
	span oteltrace.Span
}

type toolSpan struct {
	span oteltrace.Span
}

func NewOTELObserver(tracerName string) *OTELObserver {
	return &OTELObserver{
		tracer:  otel.Tracer(tracerName),
		roots:   make(map[string]rootSpan),
		toolSet: make(map[string]toolSpan),
	}
}

func (o *OTELObserver) Handle(ev Event) {
	switch ev.Kind {
	case KindSessionStart:
		ctx, span := o.tracer.Start(context.Background(), "agent.session",
			oteltrace.WithAttributes(
				attribute.String("session.id", ev.SessionID),
				attribute.String("stream.id", ev.StreamID),
				attribute.String("persona.id", ev.PersonaID),
			))
		o.mu.Lock()
		o.roots[ev.SessionID] = rootSpan{ctx: ctx, span: span}
		o.mu.Unlock()

	case KindToolStart:
		root, ok := o.rootFor(ev.SessionID)
		parentCtx := context.Background()
		if ok {
			parentCtx = root.ctx
		}
		_, span := o.tracer.Start(parentCtx, "agent.tool."+ev.ToolName,
			oteltrace.WithAttributes(attribute.String("tool.name", ev.ToolName)))
		o.mu.Lock()
		o.toolSet[ev.SessionID+":"+ev.ToolName] = toolSpan{span: span}
		o.mu.Unlock()

	case KindToolComplete:
		if ts, ok := o.takeTool(ev); ok {
			ts.span.SetStatus(codes.Ok, "")
			ts.span.End()
		}

	case KindToolError:
		if ts, ok := o.takeTool(ev); ok {
			ts.span.SetStatus(codes.Error, ev.ToolErr)
			ts.span.End()
		}

	case KindSessionEnd:
		if root, ok := o.takeRoot(ev.SessionID); ok {
			root.span.SetStatus(codes.Ok, "")
			root.span.End()
		}

	case KindSessionError:
		if root, ok := o.takeRoot(ev.SessionID); ok {
			root.span.SetStatus(codes.Error, ev.Err)
			root.span.End()
		}
	}
}

// WrapExecution runs fn under the session's active span context, if one
// is open, so nested provider-SDK spans parent correctly. Falls back to a
// background context when no root span is open for sessionID (e.g. the
// OTEL observer was attached mid-session).
func (o *OTELObserver) WrapExecution(sessionID string, fn func(ctx context.Context) error) error {
	ctx := context.Background()
	if root, ok := o.rootFor(sessionID); ok {
		ctx = root.ctx
	}
	return fn(ctx)
}

func (o *OTELObserver) rootFor(sessionID string) (rootSpan, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.roots[sessionID]
	return r, ok
}

func (o *OTELObserver) takeRoot(sessionID string) (rootSpan, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.roots[sessionID]
	if ok {
		delete(o.roots, sessionID)
	}
	return r, ok
}

func (o *OTELObserver) takeTool(ev Event) (toolSpan, bool) {
	key := ev.SessionID + ":" + ev.ToolName
	o.mu.Lock()
	defer o.mu.Unlock()
	ts, ok := o.toolSet[key]
	if ok {
		delete(o.toolSet, key)
	}
	return ts, ok
}
