package network

import (
	"context"
	"io"

	"github.com/cmwaters/plenary/consensus"
)

// Network hands out a Gossip instance per protocol namespace, so that
// independent protocol instances sharing one transport never see each
// other's messages.
type Network interface {
	Gossip(namespace string) (Gossip, error)
}

// Gossip is an interface which allows a replica to both broadcast and
// receive messages to and from other replicas in the group. It must
// eventually propagate messages to all non-faulty replicas. The
// algorithm for how this is done i.e. simply flooding the network or
// using some form of content addressing protocol is left to the
// implementer.
type Gossip interface {
	io.Closer
	Broadcaster
	Notifier
}

type Broadcaster interface {
	BroadcastPrePrepare(context.Context, *consensus.PrePrepare) error
	BroadcastPrepare(context.Context, *consensus.Prepare) error
	BroadcastCommit(context.Context, *consensus.Commit) error
	BroadcastInstanceChange(context.Context, *consensus.InstanceChange) error
}

type Notifier interface {
	// Notify registers a Notifiee wishing to receive notifications about
	// new messages. Any non-nil error returned from On... handlers
	// rejects the message as invalid.
	Notify(Notifiee)
}

type Notifiee interface {
	OnPrePrepare(context.Context, *consensus.PrePrepare) error
	OnPrepare(context.Context, *consensus.Prepare) error
	OnCommit(context.Context, *consensus.Commit) error
	OnInstanceChange(context.Context, *consensus.InstanceChange) error
}
