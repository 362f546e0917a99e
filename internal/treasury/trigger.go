package treasury

import (
	"github.com/google/uuid"

	"PerpCore/internal/state"
)

type triggerClaim struct {
	executor uuid.UUID
	height   int64
}

// TriggerRegistry resolves races between trigger executors: the first claim
// on a trigger key wins and later claims are rejected until the winner's
// claim is consumed or times out. Timeouts are measured in heights so replay
// never consults a clock.
type TriggerRegistry struct {
	timeout int64
	claims  map[state.TriggerKey]triggerClaim
}

func NewTriggerRegistry(timeoutHeights int64) *TriggerRegistry {
	return &TriggerRegistry{
		timeout: timeoutHeights,
		claims:  make(map[state.TriggerKey]triggerClaim),
	}
}

// Claim records executor as the claimant for key. Returns false when another
// executor holds a live claim. A claim older than the timeout is stale and
// may be superseded.
func (r *TriggerRegistry) Claim(key state.TriggerKey, executor uuid.UUID, height int64) bool {
	if c, ok := r.claims[key]; ok && height-c.height < r.timeout {
		return false
	}
	r.claims[key] = triggerClaim{executor: executor, height: height}
	return true
}

// Claimant returns the live claimant for key, if any.
func (r *TriggerRegistry) Claimant(key state.TriggerKey, height int64) (uuid.UUID, bool) {
	c, ok := r.claims[key]
	if !ok || height-c.height >= r.timeout {
		return uuid.UUID{}, false
	}
	return c.executor, true
}

// Release drops the claim for key. Called after settlement delivers the
// trigger's price, whether or not the trigger executed.
func (r *TriggerRegistry) Release(key state.TriggerKey) {
	delete(r.claims, key)
}
