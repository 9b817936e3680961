package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "github.com/Asarafhack/taskflow-realtime/api"
	requestSpanName    = "taskflow.api.request"
	requestEventName   = "api.request"
	requestEventDomain = "taskflow"
	observabilityEvent = "observability.event"
)

type requestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	method         string
	route          string
	start          time.Time
	authDuration   time.Duration
	encodeDuration time.Duration
	itemsReturned  int
	errorStage     string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger:        logger,
		span:          span,
		method:        method,
		route:         route,
		start:         time.Now(),
		itemsReturned: -1,
	}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *requestMetrics) SetItemsReturned(n int) {
	if n < 0 {
		n = 0
	}
	m.itemsReturned = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *requestMetrics) attributes(status int, err error) map[string]any {
	attrs := map[string]any{
		"http.method":               m.method,
		"http.route":                m.route,
		"http.status_code":          status,
		"taskflow.request.total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.authDuration > 0 {
		attrs["taskflow.request.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.encodeDuration > 0 {
		attrs["taskflow.request.encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.itemsReturned >= 0 {
		attrs["taskflow.request.items_returned"] = m.itemsReturned
	}
	if m.errorStage != "" {
		attrs["taskflow.request.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	return attrs
}

// Log ends the request span and emits one structured log entry carrying
// the same attributes.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status, err)
	severity, number := severityForStatus(status, err)
	kvs := toKeyValues(attrs)

	m.span.SetAttributes(kvs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(append(kvs,
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severity),
	)...))
	if status >= http.StatusInternalServerError || err != nil {
		desc := http.StatusText(status)
		if err != nil {
			desc = err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	traceID := m.span.SpanContext().TraceID()
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrs,
		"severity_text":   severity,
		"severity_number": number,
	}
	if traceID.IsValid() {
		fields["trace_id"] = traceID.String()
	}
	entry := m.logger.WithFields(fields)
	switch severity {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
