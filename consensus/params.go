package consensus

import "time"

// Parameters are a set of replica level parameters. These should be
// shared by all replicas in a group
type Parameters struct {
	// ViewChangeTimeout bounds how long an accepted proposal may stay
	// unexecuted before the replica suspects the primary and votes to
	// change the view. A shorter timeout recovers faster from a faulty
	// primary at the cost of more spurious view changes under load.
	ViewChangeTimeout time.Duration
}

// DefaultParameters returns the parameters used when the caller supplies
// none.
func DefaultParameters() Parameters {
	return Parameters{
		ViewChangeTimeout: 10 * time.Second,
	}
}
