package admission

// Status is the lifecycle status of one application. Statuses follow
// the same forward-only ordering as cycle phases; the only regression
// ever permitted is into Failed.
type Status string

const (
	StatusSubmitted     Status = "submitted"
	StatusFinalized     Status = "finalized"
	StatusPreprocessing Status = "preprocessing"
	StatusBatchReady    Status = "batch_ready"
	StatusProcessing    Status = "processing"
	StatusScored        Status = "scored"
	StatusShortlisted   Status = "shortlisted"
	StatusSelected      Status = "selected"
	StatusNotSelected   Status = "not_selected"
	StatusPublished     Status = "published"
	StatusFailed        Status = "failed"
)

// statusNext is the central transition table for application statuses.
// Scored forks at selection time (shortlisted or not), Shortlisted
// forks again at final selection. Failed is reachable from any
// non-terminal status and is absorbing.
var statusNext = map[Status][]Status{
	StatusSubmitted:     {StatusFinalized},
	StatusFinalized:     {StatusPreprocessing},
	StatusPreprocessing: {StatusBatchReady},
	StatusBatchReady:    {StatusProcessing},
	StatusProcessing:    {StatusScored},
	StatusScored:        {StatusShortlisted, StatusNotSelected},
	StatusShortlisted:   {StatusSelected, StatusNotSelected},
	StatusSelected:      {StatusPublished},
	StatusNotSelected:   {StatusPublished},
	StatusPublished:     {},
	StatusFailed:        {},
}

// Valid reports whether s is one of the eleven known statuses.
func (s Status) Valid() bool {
	_, ok := statusNext[s]
	return ok
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// CanTransition reports whether from -> to is legal. Failed is allowed
// from any valid non-terminal status.
func CanTransition(from, to Status) bool {
	succ, ok := statusNext[from]
	if !ok || !to.Valid() {
		return false
	}
	if to == StatusFailed {
		return !from.Terminal()
	}
	for _, s := range succ {
		if s == to {
			return true
		}
	}
	return false
}
