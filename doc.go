// Package plenary implements the vote bookkeeping and phase machinery of
// a PBFT family three phase commit protocol. The consensus package holds
// the per replica trackers for prepare, commit and instance change votes
// and a replica loop that drives phase transitions off their quorums; the
// p2p package gossips the protocol messages over libp2p.
package plenary
