package taskhistory

import (
	"context"

	"taskhistory/internal/shared/utils/id"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScope = "taskhistory"

	traceSpanSearch  = "taskhistory.search"
	traceSpanScan    = "taskhistory.scan"
	traceSpanRebuild = "taskhistory.rebuild"
	traceSpanReindex = "taskhistory.reindex"
	traceSpanMigrate = "taskhistory.migrate"

	traceAttrLogID     = "taskhistory.log_id"
	traceAttrWorkspace = "taskhistory.workspace"
	traceAttrSort      = "taskhistory.sort"
	traceAttrItems     = "taskhistory.items"
	traceAttrMode      = "taskhistory.rebuild_mode"
	traceAttrStatus    = "taskhistory.status"
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	if logID := id.LogIDFromContext(ctx); logID != "" {
		spanAttrs = append(spanAttrs, attribute.String(traceAttrLogID, logID))
	}
	spanAttrs = append(spanAttrs, attrs...)
	return otel.Tracer(traceScope).Start(ctx, name, trace.WithAttributes(spanAttrs...))
}

func markSpanResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(traceAttrStatus, "error"))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(traceAttrStatus, "success"))
}
