package usecase

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// WithCorrelationID attaches id to ctx so every log line of one event can be
// joined.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

var NewCorrelationID = func() string {
	return uuid.NewString()
}
