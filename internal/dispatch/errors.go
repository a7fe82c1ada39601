package dispatch

import "errors"

// ErrInterchangeLost is returned by Run when heartbeat_threshold
// elapses with no inbound frame from the Interchange — fatal per
// spec.md §7's InterchangeLost error kind.
var ErrInterchangeLost = errors.New("dispatch: interchange lost, no contact within heartbeat threshold")
