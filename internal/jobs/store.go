package jobs

import "context"

// Store persists job state for the server. Persistence is deliberately thin:
// the delivery subsystem only needs lookup and state transitions.
type Store interface {
	Get(ctx context.Context, id string) (Job, error)
	Put(ctx context.Context, job Job) error
	SetState(ctx context.Context, id string, state State) (Job, error)
	Close() error
}
