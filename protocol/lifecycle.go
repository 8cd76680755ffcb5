package protocol

import "context"

// Lifecycle is implemented by components that can be started and stopped
// under an Application's control. Start and Stop must be idempotent and
// safe to call from any goroutine.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
