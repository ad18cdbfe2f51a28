package tracker

import (
	"sort"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"invite_tracker/models"
)

// Snapshot maps invite code to its last known record
type Snapshot map[string]models.InviteRecord

func NewSnapshot(invites []models.InviteRecord) Snapshot {
	snapshot := make(Snapshot, len(invites))
	for _, invite := range invites {
		snapshot[invite.Code] = invite
	}
	return snapshot
}

// Records returns the invites ordered by code
func (s Snapshot) Records() []models.InviteRecord {
	records := maps.Values(s)
	sort.Slice(records, func(i, j int) bool {
		return records[i].Code < records[j].Code
	})
	return records
}

// SnapshotStore holds the current snapshot of every initialized guild
type SnapshotStore struct {
	mu     sync.RWMutex
	guilds map[string]Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{guilds: make(map[string]Snapshot)}
}

// Init sets the first snapshot of a guild, overwriting any existing one
func (s *SnapshotStore) Init(guildID string, invites []models.InviteRecord) {
	snapshot := NewSnapshot(invites)
	s.mu.Lock()
	s.guilds[guildID] = snapshot
	s.mu.Unlock()
}

// Get returns a copy of the guild's snapshot
func (s *SnapshotStore) Get(guildID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.guilds[guildID]
	if !ok {
		return nil, ErrUnknownGuild
	}
	return maps.Clone(snapshot), nil
}

// Replace swaps the guild's snapshot for one built from invites and returns
// the previous snapshot.
func (s *SnapshotStore) Replace(guildID string, invites []models.InviteRecord) (Snapshot, error) {
	snapshot := NewSnapshot(invites)
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, ok := s.guilds[guildID]
	if !ok {
		return nil, ErrUnknownGuild
	}
	s.guilds[guildID] = snapshot
	return previous, nil
}

func (s *SnapshotStore) Remove(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.guilds[guildID]
	delete(s.guilds, guildID)
	return ok
}

func (s *SnapshotStore) Guilds() []string {
	s.mu.RLock()
	guilds := maps.Keys(s.guilds)
	s.mu.RUnlock()
	slices.Sort(guilds)
	return guilds
}
