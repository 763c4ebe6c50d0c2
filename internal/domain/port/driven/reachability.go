package driven

import "context"

// ReachabilityProbe reports whether the network is reachable right now.
// Implementations must not cache answers between calls.
type ReachabilityProbe interface {
	IsReachable(ctx context.Context) bool
}
