package presence

import "sort"

// Tally aggregates emoji reactions on one message. Each user counts at most once
// per emoji and reactions are never withdrawn. The zero value is ready to use.
// Tally is not safe for concurrent use; its owner guards it.
type Tally struct {
	users map[string]map[string]struct{}
}

// Add records userID reacting with emoji. It reports false for a repeat.
func (t *Tally) Add(emoji, userID string) bool {
	if t.users == nil {
		t.users = make(map[string]map[string]struct{})
	}
	set, ok := t.users[emoji]
	if !ok {
		set = make(map[string]struct{})
		t.users[emoji] = set
	}
	if _, dup := set[userID]; dup {
		return false
	}
	set[userID] = struct{}{}
	return true
}

// Count returns how many distinct users reacted with emoji.
func (t *Tally) Count(emoji string) int {
	return len(t.users[emoji])
}

// Reacted reports whether userID reacted with emoji.
func (t *Tally) Reacted(emoji, userID string) bool {
	_, ok := t.users[emoji][userID]
	return ok
}

// Users returns the sorted ids of users who reacted with emoji.
func (t *Tally) Users(emoji string) []string {
	out := make([]string, 0, len(t.users[emoji]))
	for id := range t.users[emoji] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Emojis returns the reacted emoji in sorted order.
func (t *Tally) Emojis() []string {
	out := make([]string, 0, len(t.users))
	for e := range t.users {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Counts returns emoji → count.
func (t *Tally) Counts() map[string]int {
	out := make(map[string]int, len(t.users))
	for e, set := range t.users {
		out[e] = len(set)
	}
	return out
}

// Empty reports whether no reaction was recorded.
func (t *Tally) Empty() bool {
	return len(t.users) == 0
}

// Clone returns a deep copy.
func (t *Tally) Clone() Tally {
	var out Tally
	for e, set := range t.users {
		for id := range set {
			out.Add(e, id)
		}
	}
	return out
}
