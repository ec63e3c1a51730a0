package consensus

import (
	"crypto"

	"github.com/rs/zerolog"
)

// Option is a set of configurable parameters. If left empty, defaults
// will be used
type Option func(r *Replica)

// WithLogger sets the logger used by the replica
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Replica) {
		r.logger = logger
	}
}

// WithHashFunc sets the hash function used to digest proposal data
func WithHashFunc(f crypto.Hash) Option {
	return func(r *Replica) {
		r.hasher = f
	}
}

const DefaultHashFunc = crypto.SHA256
