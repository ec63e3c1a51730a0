package consensus

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	// register the default digest function
	_ "crypto/sha256"

	"github.com/cmwaters/plenary/pkg/group"
	"github.com/rs/zerolog"
)

// Replica runs the three phase commit protocol for a single protocol
// instance on behalf of one group member. It accepts proposals from the
// view's primary, tallies prepare and commit endorsements from its peers
// and executes a proposal once it has gathered a Byzantine quorum of
// commits. If the primary stalls, the replica votes to change the view
// and follows the group into the next one once enough of its peers agree.
//
// The replica runs only in memory: it does not persist votes or accepted
// proposals and is not responsible for crash recovery. All protocol state
// is owned by the Run loop; inputs from the network and from Propose are
// serialized onto a single channel, so the vote trackers never see
// concurrent access.
type Replica struct {
	id    group.Member
	group *group.Group

	// gossip broadcasts messages so that they eventually propagate to all
	// non-faulty replicas in the group.
	gossip Gossip

	// execute receives finalized proposals in sequence order.
	execute ExecuteFn

	params Parameters
	hasher crypto.Hash
	logger zerolog.Logger

	// The fields below are owned by the Run loop and must not be touched
	// from any other goroutine.
	view     ViewNo
	lastExec SeqNo
	nextSeq  SeqNo

	prepares        *Prepares
	commits         *Commits
	instanceChanges *InstanceChanges
	store           *Store

	// sentCommit and executed record which slots this replica has already
	// broadcast a commit for and which it has finalized, so that each
	// happens at most once per slot no matter how many further votes
	// arrive after the quorum threshold is crossed.
	sentCommit map[slotKey]bool
	executed   map[slotKey]bool

	// pendingExec holds finalized proposals that cannot execute yet
	// because an earlier sequence number is still outstanding.
	pendingExec map[SeqNo]*PrePrepare

	// inflight counts accepted but not yet executed proposals. The view
	// change timer runs only while it is non zero.
	inflight  int
	viewTimer *time.Timer

	// votedView is the highest view this replica has voted to change to.
	votedView ViewNo

	inputCh   chan input
	proposeCh chan proposeRequest
	errCh     chan error

	status   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// input serializes all forms of input to the Run loop: the four protocol
// messages plus the view change timeout.
type input struct {
	prePrepare     *PrePrepare
	prepare        *Prepare
	commit         *Commit
	instanceChange *InstanceChange
	timeout        bool
}

type proposeRequest struct {
	data []byte
	resp chan error
}

// NewReplica creates a replica for one member of the group. The execute
// hook may be nil for a replica that only needs to track agreement.
func NewReplica(
	id group.Member,
	g *group.Group,
	gossip Gossip,
	execute ExecuteFn,
	params Parameters,
	opts ...Option,
) (*Replica, error) {
	if !g.Contains(id) {
		return nil, fmt.Errorf("replica %q is not a member of the group", id)
	}
	r := &Replica{
		id:              id,
		group:           g,
		gossip:          gossip,
		execute:         execute,
		params:          params,
		hasher:          DefaultHashFunc,
		logger:          zerolog.New(os.Stdout).With().Str("replica", id.String()).Logger(),
		prepares:        NewPrepares(),
		commits:         NewCommits(),
		instanceChanges: NewInstanceChanges(),
		store:           NewStore(),
		sentCommit:      make(map[slotKey]bool),
		executed:        make(map[slotKey]bool),
		pendingExec:     make(map[SeqNo]*PrePrepare),
		inputCh:         make(chan input, 100),
		proposeCh:       make(chan proposeRequest),
		errCh:           make(chan error, 1),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run is the main loop of the replica. It processes all serialized
// inputs, performing phase transitions according to the quorums gathered
// by the vote trackers, until the context is cancelled, Stop is called or
// an unrecoverable error occurs. A replica runs at most once: after the
// loop exits it cannot be started again.
func (r *Replica) Run(ctx context.Context) error {
	if !r.status.CompareAndSwap(false, true) {
		return errors.New("replica already started")
	}
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-r.stop:
			return nil

		case err := <-r.errCh:
			return err

		case req := <-r.proposeCh:
			if err := r.handlePropose(ctx, req); err != nil {
				return err
			}

		case in := <-r.inputCh:
			if err := r.step(ctx, in); err != nil {
				return err
			}
		}
	}
}

// Stop signals the Run loop to exit. It is idempotent and safe to call
// at any time, including before Run.
func (r *Replica) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Wait returns a channel that is closed once the Run loop has exited.
func (r *Replica) Wait() <-chan struct{} {
	return r.done
}

// View returns the replica's current view.
// Do not use concurrently with Run
func (r *Replica) View() ViewNo {
	return r.view
}

// LastExecuted returns the highest sequence number executed so far.
// Do not use concurrently with Run
func (r *Replica) LastExecuted() SeqNo {
	return r.lastExec
}

// Propose submits data for ordering. It fails with ErrNotPrimary if the
// replica is not the primary of its current view. The call returns once
// the proposal has been accepted locally and handed to the gossip layer;
// finalization is reported through the execute hook.
func (r *Replica) Propose(ctx context.Context, data []byte) error {
	req := proposeRequest{data: data, resp: make(chan error, 1)}
	select {
	case r.proposeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnPrePrepare implements the network Notifiee. A non-nil error rejects
// the message as invalid before it reaches the protocol loop.
func (r *Replica) OnPrePrepare(ctx context.Context, p *PrePrepare) error {
	if p == nil {
		return errors.New("nil pre-prepare")
	}
	if !r.group.Contains(p.Replica) {
		return ErrNotMember
	}
	if len(p.Digest) == 0 {
		return ErrMissingDigest
	}
	return r.enqueue(ctx, input{prePrepare: p})
}

// OnPrepare implements the network Notifiee.
func (r *Replica) OnPrepare(ctx context.Context, p *Prepare) error {
	if p == nil {
		return errors.New("nil prepare")
	}
	if !r.group.Contains(p.Replica) {
		return ErrNotMember
	}
	if len(p.Digest) == 0 {
		return ErrMissingDigest
	}
	return r.enqueue(ctx, input{prepare: p})
}

// OnCommit implements the network Notifiee.
func (r *Replica) OnCommit(ctx context.Context, c *Commit) error {
	if c == nil {
		return errors.New("nil commit")
	}
	if !r.group.Contains(c.Replica) {
		return ErrNotMember
	}
	if len(c.Digest) == 0 {
		return ErrMissingDigest
	}
	return r.enqueue(ctx, input{commit: c})
}

// OnInstanceChange implements the network Notifiee.
func (r *Replica) OnInstanceChange(ctx context.Context, ic *InstanceChange) error {
	if ic == nil {
		return errors.New("nil instance change")
	}
	if !r.group.Contains(ic.Replica) {
		return ErrNotMember
	}
	return r.enqueue(ctx, input{instanceChange: ic})
}

func (r *Replica) enqueue(ctx context.Context, in input) error {
	select {
	case r.inputCh <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// step applies a single input to the protocol state.
func (r *Replica) step(ctx context.Context, in input) error {
	switch {
	case in.prePrepare != nil:
		return r.handlePrePrepare(ctx, in.prePrepare)
	case in.prepare != nil:
		return r.handlePrepare(ctx, in.prepare)
	case in.commit != nil:
		return r.handleCommit(ctx, in.commit)
	case in.instanceChange != nil:
		r.handleInstanceChange(ctx, in.instanceChange)
	case in.timeout:
		if r.inflight > 0 {
			r.logger.Warn().
				Uint64("view", uint64(r.view)).
				Int("inflight", r.inflight).
				Msg("proposals stalled, suspecting primary")
			r.suspect(ctx)
			r.resetViewTimer()
		}
	}
	return nil
}

func (r *Replica) handlePropose(ctx context.Context, req proposeRequest) error {
	if r.group.Primary(uint64(r.view)) != r.id {
		req.resp <- ErrNotPrimary
		return nil
	}
	r.nextSeq++
	p := &PrePrepare{
		View:    r.view,
		Seq:     r.nextSeq,
		Digest:  r.digest(req.data),
		Data:    req.data,
		Replica: r.id,
	}
	r.broadcast(ctx, func() error { return r.gossip.BroadcastPrePrepare(ctx, p) })
	req.resp <- nil
	return r.accept(ctx, p)
}

func (r *Replica) handlePrePrepare(ctx context.Context, p *PrePrepare) error {
	if p.View != r.view {
		r.logger.Debug().Stringer("msg", p).Msg("pre-prepare for another view")
		return nil
	}
	if p.Replica != r.group.Primary(uint64(p.View)) {
		r.logger.Warn().Stringer("msg", p).Msg("pre-prepare not from the view's primary")
		return nil
	}
	if existing, ok := r.store.GetProposal(p.View, p.Seq); ok {
		if !bytes.Equal(existing.Digest, p.Digest) {
			// the primary has proposed two different values for one
			// slot: unambiguous evidence that it is faulty
			r.logger.Warn().Err(ErrConflictingProposal).Stringer("msg", p).Msg("primary equivocated on a slot")
			r.suspect(ctx)
		}
		return nil
	}
	if !bytes.Equal(r.digest(p.Data), p.Digest) {
		r.logger.Warn().Stringer("msg", p).Msg("pre-prepare digest does not match its data")
		return nil
	}
	return r.accept(ctx, p)
}

// accept stores a valid proposal for its slot and, if the replica is a
// backup, broadcasts the corresponding prepare. The primary's
// pre-prepare stands in for its prepare. Prepare and commit quorums are
// re-checked immediately: votes for the slot may have arrived ahead of
// the proposal itself.
func (r *Replica) accept(ctx context.Context, p *PrePrepare) error {
	r.store.AddProposal(p)
	r.inflight++
	r.armViewTimer()
	if r.id != p.Replica {
		prepare := &Prepare{View: p.View, Seq: p.Seq, Digest: p.Digest, Replica: r.id}
		r.prepares.AddVote(prepare, r.id)
		r.broadcast(ctx, func() error { return r.gossip.BroadcastPrepare(ctx, prepare) })
	}
	r.maybeCommit(ctx, p.View, p.Seq)
	return r.maybeExecute(ctx, p.View, p.Seq)
}

func (r *Replica) handlePrepare(ctx context.Context, p *Prepare) error {
	if p.View != r.view {
		r.logger.Debug().Stringer("msg", p).Msg("prepare for another view")
		return nil
	}
	if p.Replica == r.group.Primary(uint64(p.View)) {
		r.logger.Warn().Stringer("msg", p).Err(ErrPrimaryPrepare).Msg("dropping prepare")
		return nil
	}
	if prop, ok := r.store.GetProposal(p.View, p.Seq); ok && !bytes.Equal(prop.Digest, p.Digest) {
		r.logger.Warn().Stringer("msg", p).Msg("prepare digest conflicts with accepted proposal")
		return nil
	}
	r.prepares.AddVote(p, p.Replica)
	r.maybeCommit(ctx, p.View, p.Seq)
	return r.maybeExecute(ctx, p.View, p.Seq)
}

// maybeCommit broadcasts this replica's commit for a slot once an
// accepted proposal has gathered 2f prepares. Safe to call repeatedly:
// the commit goes out at most once per slot.
func (r *Replica) maybeCommit(ctx context.Context, view ViewNo, seq SeqNo) {
	key := slotKey{view: view, seq: seq}
	if r.sentCommit[key] {
		return
	}
	prop, ok := r.store.GetProposal(view, seq)
	if !ok {
		return
	}
	slot := &Prepare{View: view, Seq: seq}
	if !r.prepares.HasQuorum(slot, r.group.F()) {
		return
	}
	r.sentCommit[key] = true
	commit := &Commit{View: view, Seq: seq, Digest: prop.Digest, Replica: r.id}
	r.commits.AddVote(commit, r.id)
	r.logger.Debug().
		Uint64("view", uint64(view)).
		Uint64("seq", uint64(seq)).
		Msg("prepare quorum reached")
	r.broadcast(ctx, func() error { return r.gossip.BroadcastCommit(ctx, commit) })
}

func (r *Replica) handleCommit(ctx context.Context, c *Commit) error {
	if c.View != r.view {
		r.logger.Debug().Stringer("msg", c).Msg("commit for another view")
		return nil
	}
	if prop, ok := r.store.GetProposal(c.View, c.Seq); ok && !bytes.Equal(prop.Digest, c.Digest) {
		r.logger.Warn().Stringer("msg", c).Msg("commit digest conflicts with accepted proposal")
		return nil
	}
	r.commits.AddVote(c, c.Replica)
	return r.maybeExecute(ctx, c.View, c.Seq)
}

// maybeExecute finalizes a slot once it has gathered 2f+1 commits.
// Execution happens in sequence order: a finalized proposal waits until
// every lower sequence number has executed.
func (r *Replica) maybeExecute(ctx context.Context, view ViewNo, seq SeqNo) error {
	key := slotKey{view: view, seq: seq}
	if r.executed[key] {
		return nil
	}
	prop, ok := r.store.GetProposal(view, seq)
	if !ok {
		return nil
	}
	slot := &Commit{View: view, Seq: seq}
	if !r.commits.HasQuorum(slot, r.group.F()) {
		return nil
	}
	r.executed[key] = true
	// Only one proposal may ever execute per sequence number. If a slot
	// from an earlier view already finalized this sequence number, the
	// first agreement wins and this slot retires without executing.
	if _, taken := r.pendingExec[seq]; taken || seq <= r.lastExec {
		r.inflight--
		r.resetViewTimer()
		return nil
	}
	r.pendingExec[seq] = prop
	return r.executeReady(ctx)
}

func (r *Replica) executeReady(ctx context.Context) error {
	for {
		prop, ok := r.pendingExec[r.lastExec+1]
		if !ok {
			break
		}
		if r.execute != nil {
			if err := r.execute(ctx, prop.Seq, prop.Data); err != nil {
				return fmt.Errorf("executing proposal %d: %w", prop.Seq, err)
			}
		}
		delete(r.pendingExec, prop.Seq)
		r.lastExec = prop.Seq
		r.inflight--
		r.logger.Info().
			Uint64("view", uint64(prop.View)).
			Uint64("seq", uint64(prop.Seq)).
			Msg("proposal finalized")
	}
	r.resetViewTimer()
	return nil
}

func (r *Replica) handleInstanceChange(ctx context.Context, ic *InstanceChange) {
	if ic.View <= r.view {
		r.logger.Debug().Stringer("msg", ic).Msg("stale instance change")
		return
	}
	r.instanceChanges.AddVote(ic, ic.Replica)

	f := r.group.F()
	// If f+1 members want to leave for this view, at least one of them is
	// honest: join them rather than wait for our own timer to expire.
	if r.votedView < ic.View && r.instanceChanges.hasEnoughVotes(ic.View, f+1) {
		r.voteInstanceChange(ctx, ic.View)
	}
	if r.instanceChanges.HasQuorum(ic.View, f) {
		r.enterView(ic.View)
	}
}

// suspect votes to abandon the current view for the next one.
func (r *Replica) suspect(ctx context.Context) {
	target := r.view + 1
	if r.votedView >= target {
		return
	}
	r.voteInstanceChange(ctx, target)
	if r.instanceChanges.HasQuorum(target, r.group.F()) {
		r.enterView(target)
	}
}

func (r *Replica) voteInstanceChange(ctx context.Context, view ViewNo) {
	r.votedView = view
	ic := &InstanceChange{View: view, Replica: r.id}
	r.instanceChanges.AddVote(ic, r.id)
	r.logger.Info().Uint64("view", uint64(view)).Msg("voting to change view")
	r.broadcast(ctx, func() error { return r.gossip.BroadcastInstanceChange(ctx, ic) })
}

// enterView moves the replica into a view that has gathered an instance
// change quorum and forgets the view's record: the votes served their
// purpose and keeping them would only let stale records pile up across
// view attempts.
func (r *Replica) enterView(view ViewNo) {
	r.view = view
	r.instanceChanges.Discard(view)
	r.nextSeq = r.lastExec
	r.logger.Info().
		Uint64("view", uint64(view)).
		Str("primary", r.group.Primary(uint64(view)).String()).
		Msg("entered new view")
	r.resetViewTimer()
}

func (r *Replica) armViewTimer() {
	if r.viewTimer != nil {
		return
	}
	r.viewTimer = time.AfterFunc(r.params.ViewChangeTimeout, r.timeoutInput)
}

func (r *Replica) resetViewTimer() {
	if r.viewTimer != nil {
		r.viewTimer.Stop()
		r.viewTimer = nil
	}
	if r.inflight > 0 {
		r.viewTimer = time.AfterFunc(r.params.ViewChangeTimeout, r.timeoutInput)
	}
}

func (r *Replica) timeoutInput() {
	select {
	case r.inputCh <- input{timeout: true}:
	default:
		// the input channel is full; rather than block the timer
		// goroutine or lose the suspicion window, retry after another
		// timeout period unless the loop has already exited
		select {
		case <-r.done:
		default:
			time.AfterFunc(r.params.ViewChangeTimeout, r.timeoutInput)
		}
	}
}

func (r *Replica) broadcast(ctx context.Context, send func() error) {
	go func() {
		if err := send(); err != nil {
			select {
			case r.errCh <- fmt.Errorf("broadcast: %w", err):
			case <-ctx.Done():
			}
		}
	}()
}

func (r *Replica) digest(data []byte) []byte {
	h := r.hasher.New()
	h.Write(data)
	return h.Sum(nil)
}
