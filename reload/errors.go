package reload

import "errors"

// ErrStoreNotLoaded is returned by Register when the store has not
// completed Load yet (it has no Spec to watch or match against).
var ErrStoreNotLoaded = errors.New("reload: store has not been loaded yet")

// ErrNoMatchingStore is returned by Listen when none of the listener's
// underlying stores match (by pointer identity) a store currently
// registered with the coordinator.
var ErrNoMatchingStore = errors.New("reload: listener's underlying stores do not match any registered store")
