package lifecycle

import "github.com/1inch/swap-coordinator/internal/types"

// validTransitions is the order state machine. The only back-edge is
// RESCUE_AVAILABLE -> COMMITTED; everything else moves forward, and
// COMPLETED and FAILED are terminal.
var validTransitions = map[types.OrderStatus][]types.OrderStatus{
	types.StatusActive:          {types.StatusCommitted, types.StatusFailed},
	types.StatusCommitted:       {types.StatusSettling, types.StatusRescueAvailable},
	types.StatusSettling:        {types.StatusCompeting},
	types.StatusCompeting:       {types.StatusCompleted, types.StatusFailed},
	types.StatusRescueAvailable: {types.StatusCommitted},
	types.StatusCompleted:       {},
	types.StatusFailed:          {},
}

func canTransition(from, to types.OrderStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
