package eventing

import "context"

type contextKey string

const contextKeyEnvelope contextKey = "eventing.envelope"

// WithEnvelope attaches envelope metadata to context.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, contextKeyEnvelope, env)
}

// EnvelopeFromContext returns envelope metadata if available.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	if ctx == nil {
		return Envelope{}, false
	}
	env, ok := ctx.Value(contextKeyEnvelope).(Envelope)
	return env, ok
}
