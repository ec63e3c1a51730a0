package consensus

import "sync"

// Store holds the proposals a replica has accepted, indexed by their
// (view, sequence) slot, as that is what prepare and commit votes
// reference.
type Store struct {
	mtx       sync.Mutex
	proposals map[slotKey]*PrePrepare
}

func NewStore() *Store {
	return &Store{
		proposals: make(map[slotKey]*PrePrepare),
	}
}

// AddProposal stores a proposal for its slot. The first proposal for a
// slot wins; the replica rejects conflicting digests before calling this.
func (s *Store) AddProposal(p *PrePrepare) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	key := slotKey{view: p.View, seq: p.Seq}
	if _, ok := s.proposals[key]; ok {
		return
	}
	s.proposals[key] = p
}

// GetProposal returns the accepted proposal for a slot, if any.
func (s *Store) GetProposal(view ViewNo, seq SeqNo) (*PrePrepare, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.proposals[slotKey{view: view, seq: seq}]
	return p, ok
}

// HasProposal reports whether a proposal has been accepted for a slot.
func (s *Store) HasProposal(view ViewNo, seq SeqNo) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.proposals[slotKey{view: view, seq: seq}]
	return ok
}
