package p2p

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cmwaters/plenary/consensus"
	"github.com/cmwaters/plenary/network"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNamespace = "plenary-test"

func TestP2PNetwork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	nets := setupP2PNetworks(ctx, t, 2)
	n0, n1 := nets[0], nets[1]

	g0, err := n0.Gossip(testNamespace)
	require.NoError(t, err)
	g1, err := n1.Gossip(testNamespace)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, g0.Close())
		require.NoError(t, g1.Close())
	})

	nt0, nt1 := makeNotifiee(), makeNotifiee()
	g0.Notify(nt0)
	g1.Notify(nt1)

	prePrepareIn := &consensus.PrePrepare{
		View:    1,
		Seq:     10,
		Digest:  []byte("digest"),
		Data:    []byte("batch"),
		Replica: "A",
	}
	require.NoError(t, g0.BroadcastPrePrepare(ctx, prePrepareIn))

	// ensures we receive the message from ourselves as well as the peer
	out, err := nt0.rcvPrePrepare(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, prePrepareIn, out)
	out, err = nt1.rcvPrePrepare(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, prePrepareIn, out)

	prepareIn := &consensus.Prepare{View: 1, Seq: 10, Digest: []byte("digest"), Replica: "B"}
	require.NoError(t, g1.BroadcastPrepare(ctx, prepareIn))

	prepareOut, err := nt0.rcvPrepare(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, prepareIn, prepareOut)
	prepareOut, err = nt1.rcvPrepare(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, prepareIn, prepareOut)

	commitIn := &consensus.Commit{View: 1, Seq: 10, Digest: []byte("digest"), Replica: "B"}
	require.NoError(t, g1.BroadcastCommit(ctx, commitIn))

	commitOut, err := nt0.rcvCommit(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, commitIn, commitOut)

	changeIn := &consensus.InstanceChange{View: 2, Replica: "A"}
	require.NoError(t, g0.BroadcastInstanceChange(ctx, changeIn))

	changeOut, err := nt1.rcvInstanceChange(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, changeIn, changeOut)

	// messages rejected by the notifiee fail to broadcast
	invalid := &consensus.Prepare{View: 9, Seq: 9, Digest: []byte("digest"), Replica: "Z"}
	nt0.validatePrepare = func(p *consensus.Prepare) error {
		if p.Replica == "Z" {
			return fmt.Errorf("unknown replica")
		}
		return nil
	}
	err = g0.BroadcastPrepare(ctx, invalid)
	assert.Error(t, err)
}

func TestGossipCloseWithoutSubscription(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	mn, err := mocknet.FullMeshLinked(1)
	require.NoError(t, err)
	ps, err := pubsub.NewGossipSub(ctx, mn.Hosts()[0])
	require.NoError(t, err)
	topic, err := ps.Join(testNamespace)
	require.NoError(t, err)

	// subscribing can fail, leaving the gossip without a subscription;
	// closing must still tear down the topic cleanly
	g := &Gossip{ps: ps, tp: topic}
	require.NotPanics(t, func() { _ = g.Close() })
}

type notifiee struct {
	prePrepares     chan *consensus.PrePrepare
	prepares        chan *consensus.Prepare
	commits         chan *consensus.Commit
	instanceChanges chan *consensus.InstanceChange

	validatePrepare func(*consensus.Prepare) error
}

func makeNotifiee() *notifiee {
	return &notifiee{
		prePrepares:     make(chan *consensus.PrePrepare, 1),
		prepares:        make(chan *consensus.Prepare, 1),
		commits:         make(chan *consensus.Commit, 1),
		instanceChanges: make(chan *consensus.InstanceChange, 1),
		validatePrepare: func(*consensus.Prepare) error { return nil },
	}
}

func (n *notifiee) OnPrePrepare(ctx context.Context, p *consensus.PrePrepare) error {
	select {
	case n.prePrepares <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *notifiee) OnPrepare(ctx context.Context, p *consensus.Prepare) error {
	if err := n.validatePrepare(p); err != nil {
		return err
	}
	select {
	case n.prepares <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *notifiee) OnCommit(ctx context.Context, c *consensus.Commit) error {
	select {
	case n.commits <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *notifiee) OnInstanceChange(ctx context.Context, ic *consensus.InstanceChange) error {
	select {
	case n.instanceChanges <- ic:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *notifiee) rcvPrePrepare(ctx context.Context) (*consensus.PrePrepare, error) {
	select {
	case p := <-n.prePrepares:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *notifiee) rcvPrepare(ctx context.Context) (*consensus.Prepare, error) {
	select {
	case p := <-n.prepares:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *notifiee) rcvCommit(ctx context.Context) (*consensus.Commit, error) {
	select {
	case c := <-n.commits:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *notifiee) rcvInstanceChange(ctx context.Context) (*consensus.InstanceChange, error) {
	select {
	case ic := <-n.instanceChanges:
		return ic, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func setupP2PNetworks(ctx context.Context, t *testing.T, n int) []network.Network {
	mn, err := mocknet.FullMeshLinked(n)
	require.NoError(t, err)

	nets := make([]network.Network, n)
	for i := range nets {
		ps, err := pubsub.NewGossipSub(ctx, mn.Hosts()[i])
		require.NoError(t, err)
		nets[i] = NewNetwork(ps)
	}

	err = mn.ConnectAllButSelf()
	require.NoError(t, err)
	return nets
}
