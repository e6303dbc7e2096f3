// Package ledger maintains the append-only, hash-linked log of
// scoring decisions. Each entry's hash embeds its predecessor's, so
// any mutation of a stored entry is detectable by re-walking the
// chain.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cohort/internal/admission"
	"cohort/internal/logging"
	"cohort/internal/store"
)

// Ledger serializes appends against one store. The mutex makes
// "read last hash, then insert" a single critical section; the store's
// own tail guard backs this up at the persistence layer, so a second
// writer pointed at the same database still cannot fork the chain.
type Ledger struct {
	mu     sync.Mutex
	st     store.Store
	halted bool
	log    *slog.Logger
}

// New returns a ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{st: st, log: logging.New("ledger")}
}

// Canonicalize renders payload as deterministic JSON: the value is
// marshaled, decoded into generic form, and re-marshaled so object
// keys always come out sorted regardless of the input type's field
// order.
func Canonicalize(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("reparse payload: %w", err)
	}
	canon, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	return string(canon), nil
}

// ComputeHash returns the hex SHA-256 of canonicalPayload joined to
// previousHash. 64 characters, like the genesis value.
func ComputeHash(canonicalPayload, previousHash string) string {
	sum := sha256.Sum256([]byte(canonicalPayload + "|" + previousHash))
	return hex.EncodeToString(sum[:])
}

// Append canonicalizes payload, links it to the current chain tail,
// and persists the new entry. It is the only write path; entries are
// never updated or deleted. Append refuses to run after an integrity
// violation has been detected (see Halted).
func (l *Ledger) Append(subjectID, decisionType string, payload any) (*admission.ChainEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return nil, fmt.Errorf("ledger writes halted: %w", admission.ErrChainIntegrity)
	}

	canon, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}

	prev := admission.GenesisHash
	tail, err := l.st.TailChainEntry()
	if err != nil {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}
	if tail != nil {
		prev = tail.DataHash
	}

	entry := &admission.ChainEntry{
		SubjectID:    subjectID,
		DecisionType: decisionType,
		Payload:      canon,
		DataHash:     ComputeHash(canon, prev),
		PreviousHash: prev,
	}
	id, err := l.st.AppendChainEntry(entry)
	if err != nil {
		return nil, fmt.Errorf("append chain entry: %w", err)
	}
	entry.ID = id

	l.log.Debug("entry appended",
		"subject_id", subjectID, "type", decisionType, "hash", entry.DataHash[:8])
	return entry, nil
}

// Halted reports whether appends are suspended after a failed verify.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// Resume re-enables appends once a halted chain has been investigated.
func (l *Ledger) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted = false
}
