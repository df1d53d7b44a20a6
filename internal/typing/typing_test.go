package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpiryWithoutExplicitClear(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s := NewStore(func() time.Time { return now })

	s.Set("t1", "u1", 5*time.Second)
	require.True(t, s.IsTyping("t1", "u1"))

	now = base.Add(6 * time.Second)
	require.False(t, s.IsTyping("t1", "u1"))
	require.Empty(t, s.Typing("t1"))
}

func TestExplicitClearBeatsTTL(t *testing.T) {
	s := NewStore(nil)
	s.Set("t1", "u1", time.Minute)
	s.Clear("t1", "u1")
	require.False(t, s.IsTyping("t1", "u1"))
}

func TestTypingScopedPerTeam(t *testing.T) {
	s := NewStore(nil)
	s.Set("t1", "u1", time.Minute)
	s.Set("t2", "u2", time.Minute)

	require.ElementsMatch(t, []string{"u1"}, s.Typing("t1"))
	require.ElementsMatch(t, []string{"u2"}, s.Typing("t2"))
}

func TestAllPrunesExpiredEntries(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s := NewStore(func() time.Time { return now })

	s.Set("t1", "u1", 5*time.Second)
	s.Set("t1", "u2", time.Minute)
	s.Set("t2", "u3", time.Minute)

	now = base.Add(10 * time.Second)
	all := s.All()
	require.ElementsMatch(t, []string{"u2"}, all["t1"])
	require.ElementsMatch(t, []string{"u3"}, all["t2"])
	require.Len(t, all, 2)
}

func TestRefreshExtendsExpiry(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s := NewStore(func() time.Time { return now })

	s.Set("t1", "u1", 5*time.Second)
	now = base.Add(4 * time.Second)
	s.Set("t1", "u1", 5*time.Second)

	now = base.Add(8 * time.Second)
	require.True(t, s.IsTyping("t1", "u1"))
}
