package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"invite_tracker/models"
)

var errUnavailable = errors.New("service unavailable")

type fakeFetcher struct {
	mu      sync.Mutex
	invites map[string]map[string]models.InviteRecord
	err     error
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{invites: make(map[string]map[string]models.InviteRecord)}
}

func (f *fakeFetcher) FetchInvites(ctx context.Context, guildID string) ([]models.InviteRecord, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	invites := make([]models.InviteRecord, 0, len(f.invites[guildID]))
	for _, record := range f.invites[guildID] {
		invites = append(invites, record)
	}
	return invites, nil
}

// hold blocks every fetch until release is called or the fetch ctx ends.
// entered receives once a fetch is blocked.
func (f *fakeFetcher) hold() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	f.entered = make(chan struct{}, 1)
	return f.entered, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		close(gate)
		f.gate = nil
	}
}

func (f *fakeFetcher) set(guildID, code string, uses int, inviterID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invites[guildID] == nil {
		f.invites[guildID] = make(map[string]models.InviteRecord)
	}
	f.invites[guildID][code] = models.InviteRecord{Code: code, Uses: uses, InviterID: &inviterID}
}

func (f *fakeFetcher) use(guildID, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.invites[guildID][code]
	record.Uses++
	f.invites[guildID][code] = record
}

func (f *fakeFetcher) remove(guildID, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.invites[guildID], code)
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore keeps attributions in memory, keyed the way the database
// unique index is
type fakeStore struct {
	mu           sync.Mutex
	attributions []models.MembershipAttribution
	invites      map[string][]models.InviteRecord
	failSaves    int
	deleted      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{invites: make(map[string][]models.InviteRecord)}
}

func (s *fakeStore) Save(_ context.Context, attribution *models.MembershipAttribution) (models.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves != 0 {
		if s.failSaves > 0 {
			s.failSaves--
		}
		return models.Ack{}, errUnavailable
	}
	for _, a := range s.attributions {
		if a.GuildID == attribution.GuildID && a.InviteeID == attribution.InviteeID &&
			a.JoinedAt.Equal(attribution.JoinedAt) {
			return models.Ack{Duplicate: true}, nil
		}
	}
	s.attributions = append(s.attributions, *attribution)
	return models.Ack{Created: true}, nil
}

func (s *fakeStore) LoadByInvitee(_ context.Context, guildID, inviteeID string) (*models.MembershipAttribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.attributions) - 1; i >= 0; i-- {
		a := s.attributions[i]
		if a.GuildID == guildID && a.InviteeID == inviteeID {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) LoadByInviter(_ context.Context, guildID, inviterID string, limit, offset int) (models.Attributions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result models.Attributions
	for _, a := range s.attributions {
		if a.GuildID == guildID && a.InviterID != nil && *a.InviterID == inviterID {
			result = append(result, a)
		}
	}
	if offset >= len(result) {
		return models.Attributions{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *fakeStore) ReconcileOnStartup(_ context.Context, guildID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uses := make(map[string]int)
	for _, a := range s.attributions {
		if a.GuildID == guildID {
			uses[a.Code]++
		}
	}
	return uses, nil
}

func (s *fakeStore) DeleteByInvitee(_ context.Context, guildID, inviteeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.attributions[:0]
	var n int64
	for _, a := range s.attributions {
		if a.GuildID == guildID && a.InviteeID == inviteeID {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.attributions = kept
	return n, nil
}

func (s *fakeStore) DeleteGuild(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, guildID)
	kept := s.attributions[:0]
	for _, a := range s.attributions {
		if a.GuildID != guildID {
			kept = append(kept, a)
		}
	}
	s.attributions = kept
	delete(s.invites, guildID)
	return nil
}

func (s *fakeStore) SaveInvites(_ context.Context, guildID string, invites []models.InviteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[guildID] = append([]models.InviteRecord(nil), invites...)
	return nil
}

func (s *fakeStore) LoadInvites(_ context.Context, guildID string) ([]models.InviteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invites, ok := s.invites[guildID]
	if !ok {
		return nil, nil
	}
	return append([]models.InviteRecord(nil), invites...), nil
}

func (s *fakeStore) saved() []models.MembershipAttribution {
	s.mu.Lock()
	defer s.mu.Unlock()
	attributions := append([]models.MembershipAttribution(nil), s.attributions...)
	sort.SliceStable(attributions, func(i, j int) bool {
		return attributions[i].JoinedAt.Before(attributions[j].JoinedAt)
	})
	return attributions
}

func (s *fakeStore) setFailSaves(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = n
}

// clock is a manually advanced time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	tracker *Tracker
	fetcher *fakeFetcher
	store   *fakeStore
	clock   *clock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	if opts.FetchBackoff == 0 {
		opts.FetchBackoff = time.Millisecond
	}
	if opts.PersistBackoff == 0 {
		opts.PersistBackoff = time.Millisecond
	}
	f := &fixture{
		fetcher: newFakeFetcher(),
		store:   newFakeStore(),
		clock:   &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	tr, err := New(f.fetcher, f.store, opts)
	require.NoError(t, err)
	tr.now = f.clock.Now
	f.tracker = tr
	t.Cleanup(tr.Close)
	return f
}

// join sends a member join one second after the previous one
func (f *fixture) join(memberID string) Outcome {
	f.clock.Advance(time.Second)
	return f.tracker.MemberJoin(context.Background(), MemberJoin{
		GuildID:  "100",
		MemberID: memberID,
		JoinedAt: f.clock.Now(),
	})
}
