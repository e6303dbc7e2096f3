package admission

import "errors"

// ErrVersionConflict is returned when a conditional phase update finds
// the cycle's phase already changed underneath it. The caller must
// re-read and retry or give up; the store never overwrites.
var ErrVersionConflict = errors.New("cycle phase changed concurrently")

// ErrChainIntegrity marks a broken hash chain: either a bug or
// tampering. Ledger writes halt until the chain is investigated.
var ErrChainIntegrity = errors.New("decision chain integrity violation")

// ErrNoOpenCycle is returned when an operation needs the open cycle
// and none exists.
var ErrNoOpenCycle = errors.New("no open admission cycle")

// ErrNoActiveCycle is returned when no cycle is open or still in
// progress.
var ErrNoActiveCycle = errors.New("no active admission cycle")
