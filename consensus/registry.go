package consensus

import "github.com/cmwaters/plenary/pkg/group"

// registry is the generic bookkeeping behind the three vote trackers. It
// maps a key derived from an incoming vote message to the set of distinct
// members that have voted for it. The key derivation is the only thing
// that differs between specializations, so it is injected at construction.
//
// The registry owns its map outright and exposes nothing but the vote
// operations below. Records materialize lazily on the first vote for a
// key, voter insertion is idempotent, and absent keys degrade every query
// to false: before a quorum forms, absence of evidence is the normal
// state, not an error.
type registry[K comparable, M any] struct {
	deriveKey func(M) K
	records   map[K]*voteRecord
}

func newRegistry[K comparable, M any](deriveKey func(M) K) registry[K, M] {
	return registry[K, M]{
		deriveKey: deriveKey,
		records:   make(map[K]*voteRecord),
	}
}

func (r *registry[K, M]) addVote(msg M, voter group.Member) {
	key := r.deriveKey(msg)
	rec, ok := r.records[key]
	if !ok {
		rec = newVoteRecord()
		r.records[key] = rec
	}
	rec.add(voter)
}

func (r *registry[K, M]) hasRecord(msg M) bool {
	_, ok := r.records[r.deriveKey(msg)]
	return ok
}

func (r *registry[K, M]) hasVoteFrom(msg M, voter group.Member) bool {
	rec, ok := r.records[r.deriveKey(msg)]
	return ok && rec.has(voter)
}

func (r *registry[K, M]) hasEnoughVotes(msg M, count int) bool {
	rec, ok := r.records[r.deriveKey(msg)]
	return ok && rec.size() >= count
}

// remove drops the whole record for a key. Removing an absent key is a
// no-op. Only the instance change tracker exposes this: prepare and
// commit records never shrink, which is what makes a crossed quorum
// threshold irreversible for them.
func (r *registry[K, M]) remove(msg M) {
	delete(r.records, r.deriveKey(msg))
}

// voteRecord is the set of distinct members seen voting for one key.
// Insertion order is irrelevant and no payload is kept alongside the
// voters.
type voteRecord struct {
	voters map[group.Member]struct{}
}

func newVoteRecord() *voteRecord {
	return &voteRecord{voters: make(map[group.Member]struct{})}
}

func (v *voteRecord) add(voter group.Member) {
	v.voters[voter] = struct{}{}
}

func (v *voteRecord) has(voter group.Member) bool {
	_, ok := v.voters[voter]
	return ok
}

func (v *voteRecord) size() int {
	return len(v.voters)
}
