package book

import "errors"

// ErrBootstrapOverlap is returned by Bootstrap when the first buffered
// diff does not straddle the snapshot's lastUpdateId: the snapshot
// fell in a gap and a fresh snapshot must be fetched.
var ErrBootstrapOverlap = errors.New("book: snapshot falls outside buffered diff overlap")

// ErrGap is returned by Ingest when a live diff cannot be contiguously
// applied to an initialized book: either the first post-snapshot event
// doesn't straddle the snapshot id, or a steady-state event's pu does
// not match the last applied u. The book has already re-armed itself
// for re-bootstrap by the time this is returned.
var ErrGap = errors.New("book: sequence gap detected")
