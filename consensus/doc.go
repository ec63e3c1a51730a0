// Package consensus tracks which members of a replica group have
// endorsed each step of a three phase commit: prepares and commits per
// (view, sequence) slot and instance change votes per view. The trackers
// answer a single question cheaply and repeatedly: has this slot or view
// gathered enough distinct endorsements to cross its Byzantine quorum
// threshold. Replica builds the surrounding phase state machine on top
// of them.
package consensus
