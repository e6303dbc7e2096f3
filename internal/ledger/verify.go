package ledger

import (
	"fmt"

	"cohort/internal/admission"
)

// InvalidEntry identifies one entry that failed verification.
type InvalidEntry struct {
	Index     int    `json:"index"`
	SubjectID string `json:"subject_id"`
	Timestamp string `json:"timestamp"`
}

// Report is the outcome of a chain verification walk.
type Report struct {
	IsValid        bool           `json:"is_valid"`
	ChainLength    int            `json:"chain_length"`
	BrokenAt       int            `json:"broken_at"` // first failing index; -1 when valid
	InvalidEntries []InvalidEntry `json:"invalid_entries,omitempty"`
	FirstTimestamp string         `json:"first_timestamp,omitempty"`
	LastTimestamp  string         `json:"last_timestamp,omitempty"`
}

// VerifyEntries walks entries in order and checks, for each one, that
// PreviousHash equals the prior DataHash (genesis for index 0) and
// that DataHash recomputes from the stored payload and PreviousHash.
// Every failing index is collected; BrokenAt is the first. An empty
// chain is valid by definition.
func VerifyEntries(entries []*admission.ChainEntry) Report {
	rep := Report{IsValid: true, ChainLength: len(entries), BrokenAt: -1}
	if len(entries) == 0 {
		return rep
	}
	rep.FirstTimestamp = entries[0].Timestamp
	rep.LastTimestamp = entries[len(entries)-1].Timestamp

	prev := admission.GenesisHash
	for i, e := range entries {
		ok := e.PreviousHash == prev && e.DataHash == ComputeHash(e.Payload, e.PreviousHash)
		if !ok {
			if rep.BrokenAt == -1 {
				rep.BrokenAt = i
			}
			rep.IsValid = false
			rep.InvalidEntries = append(rep.InvalidEntries, InvalidEntry{
				Index: i, SubjectID: e.SubjectID, Timestamp: e.Timestamp,
			})
		}
		prev = e.DataHash
	}
	return rep
}

// VerifyChain loads the whole chain from the store and verifies it.
// A failure halts further appends until Resume is called.
func (l *Ledger) VerifyChain() (Report, error) {
	entries, err := l.st.ListChainEntries()
	if err != nil {
		return Report{}, fmt.Errorf("load chain: %w", err)
	}
	rep := VerifyEntries(entries)
	if !rep.IsValid {
		l.mu.Lock()
		l.halted = true
		l.mu.Unlock()
		l.log.Error("chain verification failed",
			"broken_at", rep.BrokenAt, "length", rep.ChainLength)
	}
	return rep, nil
}

// VerifyOne checks a single subject's most recent entry against a
// claimed hash. The stored hash must match the claim, and the entry
// must also pass its own recompute and link checks; an individually
// correct hash can still sit inside a broken chain.
func (l *Ledger) VerifyOne(subjectID, claimedHash string) (bool, error) {
	entry, err := l.st.TailChainEntryBySubject(subjectID)
	if err != nil {
		return false, fmt.Errorf("load subject entry: %w", err)
	}
	if entry == nil || entry.DataHash != claimedHash {
		return false, nil
	}
	if entry.DataHash != ComputeHash(entry.Payload, entry.PreviousHash) {
		return false, nil
	}

	// Pairwise link check against the predecessor.
	entries, err := l.st.ListChainEntries()
	if err != nil {
		return false, fmt.Errorf("load chain: %w", err)
	}
	for i, e := range entries {
		if e.ID != entry.ID {
			continue
		}
		if i == 0 {
			return e.PreviousHash == admission.GenesisHash, nil
		}
		return e.PreviousHash == entries[i-1].DataHash, nil
	}
	return false, nil
}
