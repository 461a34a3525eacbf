package audit

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ZapSink writes every entry as a structured log line.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink backed by logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("audit")}
}

// Append logs entries in order. Warnings are logged at Warn level. When ctx
// carries a span its trace id is attached to every line.
func (s *ZapSink) Append(ctx context.Context, entries ...Entry) error {
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	for _, e := range entries {
		fields := []zap.Field{
			zap.String("computation_id", e.ComputationID),
			zap.Int("seq", e.Seq),
			zap.String("card_id", e.CardID),
		}
		if traceID != "" {
			fields = append(fields, zap.String("trace_id", traceID))
		}
		if e.TransactionID != "" {
			fields = append(fields, zap.String("transaction_id", e.TransactionID))
		}
		if e.Reason != "" {
			fields = append(fields, zap.String("reason", e.Reason))
		}
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, zap.String(k, e.Fields[k]))
		}

		if e.Level == LevelWarn {
			s.logger.Warn(e.Event, fields...)
		} else {
			s.logger.Debug(e.Event, fields...)
		}
	}
	return nil
}
