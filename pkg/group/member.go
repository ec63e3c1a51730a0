package group

// Member is the canonical name of a replica within a group. It is treated
// as an opaque token: the networking layer is responsible for binding it
// to a transport identity and authenticating messages claiming to be from
// it.
type Member string

func (m Member) String() string {
	return string(m)
}
