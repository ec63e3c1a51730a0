package consensus

import "errors"

var (
	// ErrNotMember is returned when a message claims to come from a
	// replica outside the group.
	ErrNotMember = errors.New("message from unknown group member")

	// ErrNotPrimary is returned by Propose when the replica is not the
	// primary of its current view.
	ErrNotPrimary = errors.New("replica is not the primary of the current view")

	// ErrPrimaryPrepare marks a prepare sent by a view's primary. The
	// primary's pre-prepare already stands in for its prepare, so a
	// separate prepare from it is invalid.
	ErrPrimaryPrepare = errors.New("primary does not send prepares")

	// ErrMissingDigest marks a three phase message without a content
	// digest.
	ErrMissingDigest = errors.New("message has no digest")

	// ErrConflictingProposal marks a pre-prepare whose digest differs
	// from an already accepted proposal for the same slot.
	ErrConflictingProposal = errors.New("conflicting proposal for an accepted slot")
)
