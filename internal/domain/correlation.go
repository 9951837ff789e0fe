package domain

import "context"

type correlationKey struct{}

// MetadataCorrelationKey is where the submission's correlation ID is
// recorded on the transaction's metadata, so a request can be traced from
// the HTTP edge through the worker to the admin endpoints.
const MetadataCorrelationKey = "correlationId"

// WithCorrelationID stores the request's correlation ID on the context.
// Set by the HTTP middleware; read by the dispatcher when it builds the
// transaction row.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFrom returns the correlation ID stored on the context, or
// an empty string when none was set (background loops, tests).
func CorrelationIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(correlationKey{}).(string)
	return v
}

// CorrelationIDOf extracts the correlation ID recorded on a transaction's
// or job's metadata at submission time.
func CorrelationIDOf(metadata map[string]any) string {
	v, _ := metadata[MetadataCorrelationKey].(string)
	return v
}
