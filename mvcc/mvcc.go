// Package mvcc provides the transaction-visibility boundary consumed by the
// delta engine. A Snapshot answers exactly one question: is a given
// transaction id committed and visible to this read. Transaction assignment
// and commit tracking live outside this module.
package mvcc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tabulardb/rowset/model"
)

// Snapshot is an immutable visibility boundary over transaction ids.
// Every txid below the exclusive upper bound is visible unless it is listed
// as in-flight at snapshot time.
type Snapshot struct {
	noneCommittedAtOrAfter model.TxID
	inFlight               map[model.TxID]struct{}
}

// NewSnapshot creates a snapshot in which every txid < upperBound is
// committed and visible, except the listed in-flight txids.
func NewSnapshot(upperBound model.TxID, inFlight ...model.TxID) *Snapshot {
	s := &Snapshot{noneCommittedAtOrAfter: upperBound}
	if len(inFlight) > 0 {
		s.inFlight = make(map[model.TxID]struct{}, len(inFlight))
		for _, tx := range inFlight {
			if tx < upperBound {
				s.inFlight[tx] = struct{}{}
			}
		}
	}
	return s
}

// AllCommitted returns a snapshot that considers every txid visible.
func AllCommitted() *Snapshot {
	return &Snapshot{noneCommittedAtOrAfter: ^model.TxID(0)}
}

// None returns a snapshot that considers no txid visible.
func None() *Snapshot {
	return &Snapshot{noneCommittedAtOrAfter: 0}
}

// IsCommitted reports whether tx is committed and visible in this snapshot.
func (s *Snapshot) IsCommitted(tx model.TxID) bool {
	if tx >= s.noneCommittedAtOrAfter {
		return false
	}
	if s.inFlight == nil {
		return true
	}
	_, inflight := s.inFlight[tx]
	return !inflight
}

func (s *Snapshot) String() string {
	if len(s.inFlight) == 0 {
		return fmt.Sprintf("Snapshot(tx < %d)", s.noneCommittedAtOrAfter)
	}
	ids := make([]string, 0, len(s.inFlight))
	for tx := range s.inFlight {
		ids = append(ids, fmt.Sprintf("%d", tx))
	}
	sort.Strings(ids)
	return fmt.Sprintf("Snapshot(tx < %d, in-flight {%s})",
		s.noneCommittedAtOrAfter, strings.Join(ids, ","))
}
