package ledger

import (
	"context"
	"sync"
)

const votesKey = "projects:votes"

// VoteEntry is the persisted vote state for one entity. Count is derived from
// the voter set after every mutation and never trusted as authoritative.
type VoteEntry struct {
	Count  int             `json:"count"`
	Voters map[string]bool `json:"voters"`
}

// VoteState is what a single voter sees for one entity.
type VoteState struct {
	Count    int  `json:"count"`
	HasVoted bool `json:"hasVoted"`
}

// VoteLedger implements toggle-style voting: at most one vote per voter per
// entity, +1 adds membership, -1 removes it, and repeating either direction
// is a no-op. Voting never fails from the caller's perspective; storage
// trouble is absorbed by the Store.
type VoteLedger struct {
	mu    sync.Mutex
	store *Store
	bus   *Bus
	key   string
}

func NewVoteLedger(store *Store, bus *Bus) *VoteLedger {
	return &VoteLedger{store: store, bus: bus, key: votesKey}
}

// Vote applies one toggle step for voter on entity and returns the refreshed
// state. direction > 0 adds the voter, direction < 0 removes it, 0 is a pure
// read. Mutations that changed state are persisted and announced on the bus.
func (l *VoteLedger) Vote(ctx context.Context, entityID, voterID string, direction int) VoteState {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.load(ctx)
	entry := entries[entityID]
	if entry.Voters == nil {
		entry.Voters = make(map[string]bool)
	}

	changed := false
	switch {
	case direction > 0 && !entry.Voters[voterID]:
		entry.Voters[voterID] = true
		changed = true
	case direction < 0 && entry.Voters[voterID]:
		delete(entry.Voters, voterID)
		changed = true
	}
	entry.Count = len(entry.Voters)
	entries[entityID] = entry

	state := VoteState{Count: entry.Count, HasVoted: entry.Voters[voterID]}
	if changed {
		l.store.Save(ctx, l.key, entries)
		if l.bus != nil {
			l.bus.Publish(EventVotesUpdated, VoteChange{
				EntityID: entityID,
				VoterID:  voterID,
				Count:    state.Count,
				HasVoted: state.HasVoted,
			})
		}
	}
	return state
}

// HasVoted reports whether voter currently holds a vote on entity.
func (l *VoteLedger) HasVoted(ctx context.Context, entityID, voterID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.load(ctx)
	return entries[entityID].Voters[voterID]
}

// Entry returns the full vote entry for entity, empty when nobody has voted.
func (l *VoteLedger) Entry(ctx context.Context, entityID string) VoteEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.load(ctx)
	entry := entries[entityID]
	if entry.Voters == nil {
		entry.Voters = make(map[string]bool)
	}
	entry.Count = len(entry.Voters)
	return entry
}

func (l *VoteLedger) load(ctx context.Context) map[string]VoteEntry {
	entries := make(map[string]VoteEntry)
	l.store.Load(ctx, l.key, &entries)
	return entries
}
