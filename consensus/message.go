package consensus

import (
	"fmt"

	"github.com/cmwaters/plenary/pkg/group"
)

type (
	// ViewNo numbers the views (epochs) of a protocol instance. Each view
	// has a designated primary; a successful instance change advances it.
	ViewNo uint64

	// SeqNo is the position a proposal was assigned within a view.
	SeqNo uint64
)

// PrePrepare is the primary's proposal assigning a sequence number to a
// batch of data within its view.
type PrePrepare struct {
	View    ViewNo
	Seq     SeqNo
	Digest  []byte
	Data    []byte
	Replica group.Member
}

// Prepare is a backup replica's endorsement of the primary's proposal
// for a (view, sequence) slot. The digest binds the endorsement to the
// proposal's content.
type Prepare struct {
	View    ViewNo
	Seq     SeqNo
	Digest  []byte
	Replica group.Member
}

// Commit finalizes a (view, sequence) slot after the sender has observed
// a quorum of prepares for it.
type Commit struct {
	View    ViewNo
	Seq     SeqNo
	Digest  []byte
	Replica group.Member
}

// InstanceChange is a vote to abandon the current view in favour of View.
// All instance change votes targeting the same view are fungible: a faulty
// primary can be suspected for many distinct reasons, and counting by
// reason would let an adversary split legitimate suspicion across reasons
// so that no single one ever reaches quorum.
type InstanceChange struct {
	View    ViewNo
	Replica group.Member
}

func (p *PrePrepare) String() string {
	return fmt.Sprintf("pre-prepare{%d/%d from %s}", p.View, p.Seq, p.Replica)
}

func (p *Prepare) String() string {
	return fmt.Sprintf("prepare{%d/%d from %s}", p.View, p.Seq, p.Replica)
}

func (c *Commit) String() string {
	return fmt.Sprintf("commit{%d/%d from %s}", c.View, c.Seq, c.Replica)
}

func (ic *InstanceChange) String() string {
	return fmt.Sprintf("instance-change{%d from %s}", ic.View, ic.Replica)
}
