package group_test

import (
	"testing"

	"github.com/cmwaters/plenary/pkg/group"
	"github.com/stretchr/testify/require"
)

func TestNewGroupValidation(t *testing.T) {
	_, err := group.New()
	require.Error(t, err)

	_, err = group.New("A", "")
	require.Error(t, err)

	_, err = group.New("A", "B", "A")
	require.Error(t, err)

	g, err := group.New("A", "B", "C", "D")
	require.NoError(t, err)
	require.Equal(t, 4, g.Size())
	require.True(t, g.Contains("A"))
	require.False(t, g.Contains("E"))
}

func TestFaultTolerance(t *testing.T) {
	for _, tc := range []struct {
		size int
		f    int
	}{
		{size: 1, f: 0},
		{size: 3, f: 0},
		{size: 4, f: 1},
		{size: 6, f: 1},
		{size: 7, f: 2},
		{size: 10, f: 3},
	} {
		members := make([]group.Member, tc.size)
		for i := range members {
			members[i] = group.Member('A' + rune(i))
		}
		g, err := group.New(members...)
		require.NoError(t, err)
		require.Equal(t, tc.f, g.F(), "size %d", tc.size)
	}
}

func TestPrimaryRotation(t *testing.T) {
	g, err := group.New("A", "B", "C", "D")
	require.NoError(t, err)

	require.Equal(t, group.Member("A"), g.Primary(0))
	require.Equal(t, group.Member("B"), g.Primary(1))
	require.Equal(t, group.Member("D"), g.Primary(3))
	// rotation wraps around the membership
	require.Equal(t, group.Member("A"), g.Primary(4))
	require.Equal(t, group.Member("C"), g.Primary(10))
}

func TestMembersReturnsCopy(t *testing.T) {
	g, err := group.New("A", "B")
	require.NoError(t, err)

	members := g.Members()
	members[0] = "Z"
	require.Equal(t, group.Member("A"), g.Primary(0))
}
