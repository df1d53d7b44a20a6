package typing

import "time"

// DefaultTTL is how long a typing flag lives without a refresh.
const DefaultTTL = 5 * time.Second

type key struct {
	teamID string
	userID string
}

// Store holds ephemeral typing flags keyed by (team, user). Expired entries
// are filtered on read and pruned lazily; an explicit stop or the user's own
// message send clears immediately. Not safe for concurrent use; the store
// actor is the only caller.
type Store struct {
	expires map[key]time.Time
	now     func() time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{expires: make(map[key]time.Time), now: now}
}

func (s *Store) Set(teamID, userID string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.expires[key{teamID, userID}] = s.now().Add(ttl)
}

func (s *Store) Clear(teamID, userID string) {
	delete(s.expires, key{teamID, userID})
}

// IsTyping reports whether the user's flag is set and unexpired.
func (s *Store) IsTyping(teamID, userID string) bool {
	exp, ok := s.expires[key{teamID, userID}]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.expires, key{teamID, userID})
		return false
	}
	return true
}

// Typing returns the users currently typing in a team.
func (s *Store) Typing(teamID string) []string {
	var users []string
	now := s.now()
	for k, exp := range s.expires {
		if k.teamID != teamID {
			continue
		}
		if !now.Before(exp) {
			delete(s.expires, k)
			continue
		}
		users = append(users, k.userID)
	}
	return users
}

// All returns every team with at least one unexpired typer.
func (s *Store) All() map[string][]string {
	out := make(map[string][]string)
	now := s.now()
	for k, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, k)
			continue
		}
		out[k.teamID] = append(out[k.teamID], k.userID)
	}
	return out
}

func (s *Store) Reset() {
	s.expires = make(map[key]time.Time)
}
