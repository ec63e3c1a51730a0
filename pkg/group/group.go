package group

import (
	"errors"
	"fmt"
)

// Group is the fixed, ordered membership of a single protocol instance.
// Every replica in the network must construct the group from the same
// member list in the same order, as the primary for a view is derived
// from a member's position within it.
type Group struct {
	members []Member
	index   map[Member]int
}

// New creates a group from an ordered list of member names. The list
// must be non-empty and free of duplicates.
func New(members ...Member) (*Group, error) {
	if len(members) == 0 {
		return nil, errors.New("group must have at least one member")
	}
	index := make(map[Member]int, len(members))
	for i, m := range members {
		if m == "" {
			return nil, errors.New("group member name must not be empty")
		}
		if _, ok := index[m]; ok {
			return nil, fmt.Errorf("duplicate group member %q", m)
		}
		index[m] = i
	}
	return &Group{members: members, index: index}, nil
}

// Size returns the total number of members, conventionally written 3f+1.
func (g *Group) Size() int {
	return len(g.members)
}

// F returns the maximum number of faulty members the group can tolerate.
func (g *Group) F() int {
	return (len(g.members) - 1) / 3
}

// Primary returns the member acting as primary for the given view. Views
// rotate through the membership round robin so that a faulty primary can
// always be voted out in a bounded number of view changes.
func (g *Group) Primary(view uint64) Member {
	return g.members[view%uint64(len(g.members))]
}

// Contains reports whether the named member belongs to the group.
func (g *Group) Contains(m Member) bool {
	_, ok := g.index[m]
	return ok
}

// Members returns a copy of the ordered member list.
func (g *Group) Members() []Member {
	members := make([]Member, len(g.members))
	copy(members, g.members)
	return members
}
