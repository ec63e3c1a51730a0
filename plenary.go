package plenary

import (
	"github.com/cmwaters/plenary/consensus"
	"github.com/cmwaters/plenary/network"
	"github.com/cmwaters/plenary/p2p"
	"github.com/cmwaters/plenary/pkg/group"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// New wires a replica for one member of the group to a libp2p gossipsub
// instance under the given namespace. The returned gossip handle must be
// closed once the replica is done.
func New(
	ps *pubsub.PubSub,
	namespace string,
	id group.Member,
	g *group.Group,
	execute consensus.ExecuteFn,
	parameters consensus.Parameters,
	opts ...consensus.Option,
) (*consensus.Replica, network.Gossip, error) {
	net := p2p.NewNetwork(ps)
	gossip, err := net.Gossip(namespace)
	if err != nil {
		return nil, nil, err
	}
	replica, err := consensus.NewReplica(id, g, gossip, execute, parameters, opts...)
	if err != nil {
		_ = gossip.Close()
		return nil, nil, err
	}
	gossip.Notify(replica)
	return replica, gossip, nil
}
