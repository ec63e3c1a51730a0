package consensus

import "github.com/cmwaters/plenary/pkg/group"

// slotKey identifies one proposal slot: a sequence number within a view.
type slotKey struct {
	view ViewNo
	seq  SeqNo
}

// Prepares tracks which replicas have endorsed a PREPARE for each
// (view, sequence) slot. Only presence of a vote per slot is tracked;
// the digest carried by a prepare is not retained here, so prepares for
// the same slot with different digests land in the same record. Digest
// agreement is checked by the replica against the accepted pre-prepare
// before a vote ever reaches this tracker.
type Prepares struct {
	registry[slotKey, *Prepare]
}

func NewPrepares() *Prepares {
	return &Prepares{registry: newRegistry(func(p *Prepare) slotKey {
		return slotKey{view: p.View, seq: p.Seq}
	})}
}

// AddVote records that voter endorsed the prepare's (view, sequence)
// slot. Votes from the same voter for the same slot count once.
func (p *Prepares) AddVote(prepare *Prepare, voter group.Member) {
	p.addVote(prepare, voter)
}

// HasPrepare reports whether any prepare vote has been recorded for the
// slot.
func (p *Prepares) HasPrepare(prepare *Prepare) bool {
	return p.hasRecord(prepare)
}

// HasPrepareFrom reports whether voter has a recorded prepare vote for
// the slot.
func (p *Prepares) HasPrepareFrom(prepare *Prepare, voter group.Member) bool {
	return p.hasVoteFrom(prepare, voter)
}

// HasQuorum reports whether the slot has gathered 2f distinct prepare
// votes. The threshold is one lower than the full 2f+1 because the
// primary's pre-prepare stands in for its prepare: this tracker only
// counts the corroborating backups.
func (p *Prepares) HasQuorum(prepare *Prepare, f int) bool {
	return p.hasEnoughVotes(prepare, 2*f)
}

// Commits tracks which replicas have endorsed a COMMIT for each
// (view, sequence) slot. Same shape as Prepares but with the full
// Byzantine quorum: every replica, the primary included, must commit
// independently, so there is no implicit vote to subtract.
type Commits struct {
	registry[slotKey, *Commit]
}

func NewCommits() *Commits {
	return &Commits{registry: newRegistry(func(c *Commit) slotKey {
		return slotKey{view: c.View, seq: c.Seq}
	})}
}

// AddVote records that voter committed the (view, sequence) slot.
func (c *Commits) AddVote(commit *Commit, voter group.Member) {
	c.addVote(commit, voter)
}

// HasCommit reports whether any commit vote has been recorded for the
// slot.
func (c *Commits) HasCommit(commit *Commit) bool {
	return c.hasRecord(commit)
}

// HasCommitFrom reports whether voter has a recorded commit vote for the
// slot.
func (c *Commits) HasCommitFrom(commit *Commit, voter group.Member) bool {
	return c.hasVoteFrom(commit, voter)
}

// HasQuorum reports whether the slot has gathered 2f+1 distinct commit
// votes.
func (c *Commits) HasQuorum(commit *Commit, f int) bool {
	return c.hasEnoughVotes(commit, 2*f+1)
}

// ViewRef is either a raw view number or a message carrying one. Both
// forms resolve to the same key before touching the registry, so querying
// by either is equivalent.
type ViewRef interface {
	viewNo() ViewNo
}

func (v ViewNo) viewNo() ViewNo { return v }

func (ic *InstanceChange) viewNo() ViewNo { return ic.View }

// InstanceChanges tracks which replicas have voted to abandon a view,
// keyed by the view number alone. Unlike the three phase trackers a
// view's record can be discarded outright once the view change completes
// or is abandoned, so stale records do not pile up across many view
// attempts.
type InstanceChanges struct {
	registry[ViewNo, ViewRef]
}

func NewInstanceChanges() *InstanceChanges {
	return &InstanceChanges{registry: newRegistry(func(ref ViewRef) ViewNo {
		return ref.viewNo()
	})}
}

// AddVote records that voter wants to leave the referenced view.
func (ic *InstanceChanges) AddVote(view ViewRef, voter group.Member) {
	ic.addVote(view, voter)
}

// HasView reports whether any instance change vote has been recorded for
// the view.
func (ic *InstanceChanges) HasView(view ViewRef) bool {
	return ic.hasRecord(view)
}

// HasVoteFrom reports whether voter has a recorded instance change vote
// for the view.
func (ic *InstanceChanges) HasVoteFrom(view ViewRef, voter group.Member) bool {
	return ic.hasVoteFrom(view, voter)
}

// HasQuorum reports whether the view has gathered 2f+1 distinct instance
// change votes.
func (ic *InstanceChanges) HasQuorum(view ViewRef, f int) bool {
	return ic.hasEnoughVotes(view, 2*f+1)
}

// Discard forgets the view's record entirely, voters included. Discarding
// a view with no record is a no-op.
func (ic *InstanceChanges) Discard(view ViewNo) {
	ic.remove(view)
}
