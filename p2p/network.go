package p2p

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cmwaters/plenary/consensus"
	"github.com/cmwaters/plenary/network"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

var _ network.Network = (*Network)(nil)

// Network implements the network interface over libp2p gossipsub. Each
// namespace maps to its own pubsub topic.
type Network struct {
	ps *pubsub.PubSub
}

func NewNetwork(ps *pubsub.PubSub) network.Network {
	return &Network{
		ps: ps,
	}
}

func (pn *Network) Gossip(namespace string) (network.Gossip, error) {
	topic, err := pn.ps.Join(namespace)
	if err != nil {
		return nil, err
	}

	pg := &Gossip{
		ps: pn.ps,
		tp: topic,
	}
	pg.ensureSubscribed()
	return pg, nil
}

type Gossip struct {
	ps  *pubsub.PubSub
	tp  *pubsub.Topic
	sub *pubsub.Subscription
}

func (g *Gossip) BroadcastPrePrepare(ctx context.Context, p *consensus.PrePrepare) error {
	return g.publish(ctx, &message{Type: prePrepareType, PrePrepare: p})
}

func (g *Gossip) BroadcastPrepare(ctx context.Context, p *consensus.Prepare) error {
	return g.publish(ctx, &message{Type: prepareType, Prepare: p})
}

func (g *Gossip) BroadcastCommit(ctx context.Context, c *consensus.Commit) error {
	return g.publish(ctx, &message{Type: commitType, Commit: c})
}

func (g *Gossip) BroadcastInstanceChange(ctx context.Context, ic *consensus.InstanceChange) error {
	return g.publish(ctx, &message{Type: instanceChangeType, InstanceChange: ic})
}

func (g *Gossip) publish(ctx context.Context, msg *message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// so that we publish when we have at least one peer
	opt := pubsub.WithReadiness(pubsub.MinTopicSize(1))
	return g.tp.Publish(ctx, data, opt)
}

func (g *Gossip) Notify(notifiee network.Notifiee) {
	// error can be safely ignored
	_ = g.ps.RegisterTopicValidator(g.tp.String(), func(ctx context.Context, _ peer.ID, pmsg *pubsub.Message) pubsub.ValidationResult {
		var cmsg message
		err := json.Unmarshal(pmsg.Data, &cmsg)
		if err != nil {
			return pubsub.ValidationReject
		}

		switch cmsg.Type {
		case prePrepareType:
			err = notifiee.OnPrePrepare(ctx, cmsg.PrePrepare)
		case prepareType:
			err = notifiee.OnPrepare(ctx, cmsg.Prepare)
		case commitType:
			err = notifiee.OnCommit(ctx, cmsg.Commit)
		case instanceChangeType:
			err = notifiee.OnInstanceChange(ctx, cmsg.InstanceChange)
		default:
			return pubsub.ValidationReject
		}
		if err != nil {
			return pubsub.ValidationReject
		}

		return pubsub.ValidationAccept
	})
}

func (g *Gossip) Close() (err error) {
	// sub is nil when ensureSubscribed failed to subscribe
	if g.sub != nil {
		g.sub.Cancel()
	}
	err = errors.Join(err, g.ps.UnregisterTopicValidator(g.tp.String()))
	err = errors.Join(err, g.tp.Close())
	return err
}

// ensureSubscribed maintains one and only subscription for the topic.
// PubSub requires at least one subscription in order to work correctly.
// The Network interface does not need the notion of subscribers and
// relies only on validators.
func (g *Gossip) ensureSubscribed() {
	sub, err := g.tp.Subscribe()
	if err != nil {
		return // safe to ignore
	}
	g.sub = sub

	go func() {
		for {
			_, err := sub.Next(context.Background())
			if err != nil {
				// happens when subscription is canceled
				return
			}
			// simply ignore messages
		}
	}()
}

type messageType uint8

const (
	prePrepareType messageType = iota + 1
	prepareType
	commitType
	instanceChangeType
)

type message struct {
	Type           messageType
	PrePrepare     *consensus.PrePrepare
	Prepare        *consensus.Prepare
	Commit         *consensus.Commit
	InstanceChange *consensus.InstanceChange
}
