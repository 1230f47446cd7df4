package mirror

import "brightnest/api/internal/store"

// ReduceSelection resolves which child is active given the current ordered
// set and the previous selection. A still-valid previous selection is always
// kept, so redundant snapshots from the live query cannot flicker the active
// child. Otherwise the first child in display order wins; an empty set clears
// the selection. Pure and idempotent.
func ReduceSelection(children []store.Child, previous string) string {
	if previous != "" {
		for _, child := range children {
			if child.ID == previous {
				return previous
			}
		}
	}
	if len(children) > 0 {
		return children[0].ID
	}
	return ""
}
