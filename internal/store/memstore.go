package store

import (
	"fmt"
	"sort"
	"sync"

	"cohort/internal/admission"
)

// MemStore implements Store entirely in memory. It backs tests and
// dry runs; semantics mirror SqlStore, including the chain tail guard
// and all-or-nothing bulk updates.
type MemStore struct {
	mu sync.Mutex

	cycles    map[int64]*admission.Cycle
	nextCycle int64

	apps    map[int64]*admission.Application
	nextApp int64

	records    map[int64]*admission.AnonymizedRecord
	bySubject  map[string]int64 // subject_id -> record id
	nextRecord int64

	attempts    map[int64]*admission.EvaluationAttempt
	nextAttempt int64

	verdicts    map[int64]*admission.ValidationVerdict
	nextVerdict int64

	decisions    map[int64]*admission.FinalDecision
	nextDecision int64

	chain     []*admission.ChainEntry
	nextChain int64

	interviews    map[int64]*admission.Interview // keyed by application id
	nextInterview int64

	selLogs []*admission.SelectionLog
	nextLog int64
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		cycles:     make(map[int64]*admission.Cycle),
		apps:       make(map[int64]*admission.Application),
		records:    make(map[int64]*admission.AnonymizedRecord),
		bySubject:  make(map[string]int64),
		attempts:   make(map[int64]*admission.EvaluationAttempt),
		verdicts:   make(map[int64]*admission.ValidationVerdict),
		decisions:  make(map[int64]*admission.FinalDecision),
		interviews: make(map[int64]*admission.Interview),
	}
}

func (s *MemStore) Close() error { return nil }

// --- Cycles ---

func (s *MemStore) CreateCycle(c *admission.Cycle) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Phase == "" {
		c.Phase = admission.PhaseSubmission
	}
	if !c.Phase.Valid() {
		return 0, fmt.Errorf("invalid phase %q", c.Phase)
	}
	if c.IsOpen {
		for _, other := range s.cycles {
			if other.IsOpen {
				return 0, fmt.Errorf("cycle #%d (%s) is already open", other.ID, other.Name)
			}
		}
	}
	s.nextCycle++
	cp := *c
	cp.ID = s.nextCycle
	s.cycles[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) GetCycle(id int64) (*admission.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemStore) OpenCycle() (*admission.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cycles {
		if c.IsOpen {
			cp := *c
			return &cp, nil
		}
	}
	return nil, admission.ErrNoOpenCycle
}

func (s *MemStore) ActiveCycle() (*admission.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active *admission.Cycle
	for _, c := range s.cycles {
		if c.IsOpen {
			cp := *c
			return &cp, nil
		}
		if c.Phase != admission.PhaseCompleted && (active == nil || c.ID > active.ID) {
			active = c
		}
	}
	if active == nil {
		return nil, admission.ErrNoActiveCycle
	}
	cp := *active
	return &cp, nil
}

func (s *MemStore) AdvancePhase(id int64, from, to admission.Phase) error {
	if !admission.CanAdvance(from, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok || c.Phase != from {
		return admission.ErrVersionConflict
	}
	c.Phase = to
	return nil
}

func (s *MemStore) CloseCycle(id int64, closedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return fmt.Errorf("cycle #%d not found", id)
	}
	c.IsOpen = false
	c.ClosedBy = closedBy
	c.ClosedAt = nowUTC()
	return nil
}

func (s *MemStore) SetSelectedCount(id int64, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return fmt.Errorf("cycle #%d not found", id)
	}
	c.SelectedCount = n
	return nil
}

// --- Applications ---

func (s *MemStore) CreateApplication(a *admission.Application) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Status == "" {
		a.Status = admission.StatusSubmitted
	}
	if !a.Status.Valid() {
		return 0, fmt.Errorf("invalid status %q", a.Status)
	}
	s.nextApp++
	cp := *a
	cp.ID = s.nextApp
	s.apps[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) GetApplication(id int64) (*admission.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemStore) ListApplications(cycleID int64, status admission.Status) ([]*admission.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*admission.Application
	for _, a := range s.apps {
		if a.CycleID != cycleID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) SetApplicationStatus(id int64, to admission.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(id, to)
}

func (s *MemStore) setStatusLocked(id int64, to admission.Status) error {
	a, ok := s.apps[id]
	if !ok {
		return fmt.Errorf("application #%d not found", id)
	}
	if !admission.CanTransition(a.Status, to) {
		return fmt.Errorf("illegal status transition %s -> %s for application #%d", a.Status, to, id)
	}
	a.Status = to
	return nil
}

// BulkSetStatus applies the transition to every matching application
// or to none: the legality check is global, so a single pass suffices.
func (s *MemStore) BulkSetStatus(cycleID int64, from, to admission.Status) (int, error) {
	if !admission.CanTransition(from, to) {
		return 0, fmt.Errorf("illegal status transition %s -> %s", from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.apps {
		if a.CycleID == cycleID && a.Status == from {
			a.Status = to
			n++
		}
	}
	return n, nil
}

func (s *MemStore) FailApplication(id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setStatusLocked(id, admission.StatusFailed); err != nil {
		return err
	}
	s.apps[id].FailReason = reason
	return nil
}

func (s *MemStore) SetApplicationMetrics(id int64, testAverage, academicScore float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[id]
	if !ok {
		return fmt.Errorf("application #%d not found", id)
	}
	a.TestAverage = testAverage
	a.AcademicScore = academicScore
	return nil
}

// --- Anonymized records ---

func (s *MemStore) SaveRecord(r *admission.AnonymizedRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.records {
		if other.ApplicationID == r.ApplicationID {
			return 0, fmt.Errorf("application #%d already has an anonymized record", r.ApplicationID)
		}
	}
	if r.CreatedAt == "" {
		r.CreatedAt = nowUTC()
	}
	s.nextRecord++
	cp := *r
	cp.ID = s.nextRecord
	s.records[cp.ID] = &cp
	s.bySubject[cp.SubjectID] = cp.ID
	return cp.ID, nil
}

func (s *MemStore) RecordByApplication(applicationID int64) (*admission.AnonymizedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ApplicationID == applicationID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) RecordBySubject(subjectID string) (*admission.AnonymizedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySubject[subjectID]
	if !ok {
		return nil, nil
	}
	cp := *s.records[id]
	return &cp, nil
}

func (s *MemStore) ListRecords(cycleID int64) ([]*admission.AnonymizedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*admission.AnonymizedRecord
	for _, r := range s.records {
		a, ok := s.apps[r.ApplicationID]
		if !ok || a.CycleID != cycleID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Attempts and verdicts ---

func (s *MemStore) SaveAttempt(a *admission.EvaluationAttempt) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt == "" {
		a.CreatedAt = nowUTC()
	}
	s.nextAttempt++
	cp := *a
	cp.ID = s.nextAttempt
	s.attempts[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) ListAttempts(subjectID string) ([]*admission.EvaluationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*admission.EvaluationAttempt
	for _, a := range s.attempts {
		if a.SubjectID == subjectID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (s *MemStore) SaveVerdict(v *admission.ValidationVerdict) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.CreatedAt == "" {
		v.CreatedAt = nowUTC()
	}
	s.nextVerdict++
	cp := *v
	cp.ID = s.nextVerdict
	s.verdicts[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) ListVerdicts(subjectID string) ([]*admission.ValidationVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*admission.ValidationVerdict
	for _, v := range s.verdicts {
		if v.SubjectID == subjectID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Final decisions ---

func (s *MemStore) SaveDecision(d *admission.FinalDecision) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.decisions {
		if other.SubjectID == d.SubjectID {
			return 0, fmt.Errorf("subject %s already has a final decision", d.SubjectID)
		}
	}
	if d.CreatedAt == "" {
		d.CreatedAt = nowUTC()
	}
	if d.Status == "" {
		d.Status = admission.StatusScored
	}
	s.nextDecision++
	cp := *d
	cp.ID = s.nextDecision
	s.decisions[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemStore) DecisionBySubject(subjectID string) (*admission.FinalDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.decisions {
		if d.SubjectID == subjectID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListDecisions(cycleID int64) ([]*admission.FinalDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*admission.FinalDecision
	for _, d := range s.decisions {
		if d.CycleID == cycleID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WeightedTotal != out[j].WeightedTotal {
			return out[i].WeightedTotal > out[j].WeightedTotal
		}
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) SetDecisionHash(id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return fmt.Errorf("decision #%d not found", id)
	}
	d.ChainHash = hash
	return nil
}

func (s *MemStore) SetDecisionStatus(id int64, to admission.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return fmt.Errorf("decision #%d not found", id)
	}
	d.Status = to
	return nil
}

// --- Chain entries ---

func (s *MemStore) AppendChainEntry(e *admission.ChainEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := admission.GenesisHash
	if len(s.chain) > 0 {
		tail = s.chain[len(s.chain)-1].DataHash
	}
	if e.PreviousHash != tail {
		return 0, fmt.Errorf("append against stale tail (have %.8s, chain at %.8s): %w",
			e.PreviousHash, tail, admission.ErrChainIntegrity)
	}
	if e.Timestamp == "" {
		e.Timestamp = nowUTC()
	}
	s.nextChain++
	cp := *e
	cp.ID = s.nextChain
	s.chain = append(s.chain, &cp)
	return cp.ID, nil
}

func (s *MemStore) TailChainEntry() (*admission.ChainEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chain) == 0 {
		return nil, nil
	}
	cp := *s.chain[len(s.chain)-1]
	return &cp, nil
}

func (s *MemStore) TailChainEntryBySubject(subjectID string) (*admission.ChainEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.chain) - 1; i >= 0; i-- {
		if s.chain[i].SubjectID == subjectID {
			cp := *s.chain[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListChainEntries() ([]*admission.ChainEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*admission.ChainEntry, len(s.chain))
	for i, e := range s.chain {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// --- Interviews ---

func (s *MemStore) SaveInterview(iv *admission.Interview) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.interviews[iv.ApplicationID]; ok {
		existing.Scores = iv.Scores
		existing.Completed = iv.Completed
		existing.CompletedAt = iv.CompletedAt
		return existing.ID, nil
	}
	s.nextInterview++
	cp := *iv
	cp.ID = s.nextInterview
	s.interviews[cp.ApplicationID] = &cp
	return cp.ID, nil
}

func (s *MemStore) InterviewByApplication(applicationID int64) (*admission.Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.interviews[applicationID]
	if !ok {
		return nil, nil
	}
	cp := *iv
	return &cp, nil
}

// --- Selection logs ---

func (s *MemStore) SaveSelectionLog(l *admission.SelectionLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.CreatedAt == "" {
		l.CreatedAt = nowUTC()
	}
	s.nextLog++
	cp := *l
	cp.ID = s.nextLog
	s.selLogs = append(s.selLogs, &cp)
	return cp.ID, nil
}

func (s *MemStore) ListSelectionLogs(cycleID int64) ([]*admission.SelectionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*admission.SelectionLog
	for _, l := range s.selLogs {
		if l.CycleID == cycleID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}
