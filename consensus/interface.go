package consensus

import "context"

type (
	// Gossip is the replica's view of the networking layer. Broadcast
	// messages must eventually propagate to all non-faulty replicas in
	// the group; how that is achieved, whether by flooding or a content
	// addressed protocol, is left to the implementer.
	Gossip interface {
		BroadcastPrePrepare(context.Context, *PrePrepare) error
		BroadcastPrepare(context.Context, *Prepare) error
		BroadcastCommit(context.Context, *Commit) error
		BroadcastInstanceChange(context.Context, *InstanceChange) error
	}

	// ExecuteFn receives each finalized proposal exactly once, in
	// sequence number order. An error aborts the replica: execution is
	// the state machine side of replication and a replica that cannot
	// apply an agreed value cannot keep participating.
	ExecuteFn func(ctx context.Context, seq SeqNo, data []byte) error
)
