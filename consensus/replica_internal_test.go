package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/cmwaters/plenary/pkg/group"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type nopGossip struct{}

func (nopGossip) BroadcastPrePrepare(context.Context, *PrePrepare) error { return nil }
func (nopGossip) BroadcastPrepare(context.Context, *Prepare) error       { return nil }
func (nopGossip) BroadcastCommit(context.Context, *Commit) error         { return nil }
func (nopGossip) BroadcastInstanceChange(context.Context, *InstanceChange) error {
	return nil
}

func TestTimeoutRetriesWhenInputChannelFull(t *testing.T) {
	g, err := group.New("A", "B", "C", "D")
	require.NoError(t, err)
	params := Parameters{ViewChangeTimeout: 5 * time.Millisecond}
	r, err := NewReplica("B", g, nopGossip{}, nil, params, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	for i := 0; i < cap(r.inputCh); i++ {
		r.inputCh <- input{timeout: true}
	}

	// the dropped timeout must schedule a retry rather than silence the
	// timer until the next proposal
	r.timeoutInput()
	<-r.inputCh
	require.Eventually(t, func() bool {
		return len(r.inputCh) == cap(r.inputCh)
	}, time.Second, time.Millisecond)
}
