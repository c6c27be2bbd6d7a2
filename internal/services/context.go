package services

import "context"

type contextKey string

const (
	unitIDKey    contextKey = "unit_id"
	cycleKey     contextKey = "cycle"
	requestIDKey contextKey = "request_id"
)

// WithUnitID annotates context with the unit identifier.
func WithUnitID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, unitIDKey, id)
}

// UnitIDFromContext extracts the unit identifier if present.
func UnitIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(unitIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCycle annotates context with the triage cycle number.
func WithCycle(ctx context.Context, cycle int) context.Context {
	if cycle <= 0 {
		return ctx
	}
	return context.WithValue(ctx, cycleKey, cycle)
}

// CycleFromContext returns the cycle number if present.
func CycleFromContext(ctx context.Context) (int, bool) {
	if v, ok := ctx.Value(cycleKey).(int); ok && v > 0 {
		return v, true
	}
	return 0, false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
