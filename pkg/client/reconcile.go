package client

import "livemap/pkg/protocol"

// Changes is the difference between two snapshots of visible locations,
// keyed by owner id. A full snapshot replaces local state, so owners
// absent from the new snapshot are removals: the server stopped serving
// them, usually because consent was revoked while the client was away.
type Changes struct {
	Added   []protocol.LocationUpdate
	Updated []protocol.LocationUpdate
	Removed []string
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Reconcile computes the changes that transform the old view into the
// new one. An owner counts as updated only when the sample actually
// moved forward; identical capture times are no-ops.
func Reconcile(old, updated map[string]protocol.LocationUpdate) Changes {
	var changes Changes

	for ownerID, sample := range updated {
		prev, seen := old[ownerID]
		if !seen {
			changes.Added = append(changes.Added, sample)
			continue
		}
		if sample.CapturedAt.After(prev.CapturedAt) || sample.IsStale != prev.IsStale {
			changes.Updated = append(changes.Updated, sample)
		}
	}

	for ownerID := range old {
		if _, ok := updated[ownerID]; !ok {
			changes.Removed = append(changes.Removed, ownerID)
		}
	}

	return changes
}
