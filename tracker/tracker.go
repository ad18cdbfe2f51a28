// Package tracker attributes guild joins to the invite codes that were used.
//
// Every guild has its own worker that owns the guild's invite snapshot. Each
// gateway event becomes a task on that worker: the live invite list is fetched,
// swapped into the SnapshotStore, diffed against the previous snapshot and the
// resulting attribution is handed to the AttributionStore.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creasty/defaults"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"invite_tracker/models"
	"invite_tracker/utils"
)

// InviteFetcher lists the live invites of a guild
type InviteFetcher interface {
	FetchInvites(ctx context.Context, guildID string) ([]models.InviteRecord, error)
}

// AttributionStore is the durable side of the tracker, see models.AttributionStore
type AttributionStore interface {
	Save(ctx context.Context, attribution *models.MembershipAttribution) (models.Ack, error)
	LoadByInvitee(ctx context.Context, guildID, inviteeID string) (*models.MembershipAttribution, error)
	LoadByInviter(ctx context.Context, guildID, inviterID string, limit, offset int) (models.Attributions, error)
	ReconcileOnStartup(ctx context.Context, guildID string) (map[string]int, error)
	DeleteByInvitee(ctx context.Context, guildID, inviteeID string) (int64, error)
	DeleteGuild(ctx context.Context, guildID string) error
	SaveInvites(ctx context.Context, guildID string, invites []models.InviteRecord) error
	LoadInvites(ctx context.Context, guildID string) ([]models.InviteRecord, error)
}

type RacePolicy string

const (
	// RaceHighestDelta attributes a racing join to the most used invite and
	// queues the other uses for the joins that follow
	RaceHighestDelta RacePolicy = "highest_delta"
	// RaceDefer leaves racing joins unattributed
	RaceDefer RacePolicy = "defer"
)

func ParseRacePolicy(s string) (RacePolicy, error) {
	switch policy := RacePolicy(s); policy {
	case RaceHighestDelta, RaceDefer:
		return policy, nil
	}
	return "", fmt.Errorf("unknown race policy %q", s)
}

// Options tune retries and resolution. Zero values take the defaults.
type Options struct {
	FetchRetries       int           `default:"1"`
	FetchBackoff       time.Duration `default:"500ms"`
	PersistRetries     int           `default:"3"`
	PersistBackoff     time.Duration `default:"200ms"`
	RacePolicy         RacePolicy    `default:"highest_delta"`
	CreditWindow       time.Duration `default:"30s"`
	PurgeOnLeave       bool
	PurgeOnGuildRemove bool
}

type MemberJoin struct {
	GuildID  string
	MemberID string
	JoinedAt time.Time
}

type OutcomeKind string

const (
	OutcomeAttributed OutcomeKind = "attributed"
	// OutcomeAmbiguous joins were attributed through the join-order queue
	OutcomeAmbiguous   OutcomeKind = "ambiguous"
	OutcomeUnresolved  OutcomeKind = "unresolved"
	OutcomeUntracked   OutcomeKind = "untracked"
	OutcomeStale       OutcomeKind = "stale"
	OutcomeUnpersisted OutcomeKind = "unpersisted"
	OutcomeDropped     OutcomeKind = "dropped"
)

// Outcome of one member join. Attribution is set for attributed, ambiguous
// and unpersisted joins.
type Outcome struct {
	Kind           OutcomeKind
	Attribution    *models.MembershipAttribution
	Candidates     []Candidate
	AmbiguousCount int
	Ack            models.Ack
	Err            error
}

type GuildStatus struct {
	GuildID        string `json:"guild_id"`
	State          string `json:"state"`
	Stale          bool   `json:"stale"`
	Invites        int    `json:"invites"`
	ActiveInvites  int    `json:"active_invites"`
	PendingCredits int    `json:"pending_credits"`
}

type Tracker struct {
	fetcher   InviteFetcher
	store     AttributionStore
	snapshots *SnapshotStore
	opts      Options
	now       func() time.Time

	mu       sync.Mutex
	guilds   map[string]*guild
	retiring map[string]*guild // removed guilds whose worker is still running
	closed   bool
	wg       sync.WaitGroup

	pendingMu   sync.Mutex
	unpersisted []models.MembershipAttribution

	staleLog rate.Sometimes
}

func New(fetcher InviteFetcher, store AttributionStore, opts Options) (*Tracker, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	if _, err := ParseRacePolicy(string(opts.RacePolicy)); err != nil {
		return nil, err
	}
	return &Tracker{
		fetcher:   fetcher,
		store:     store,
		snapshots: NewSnapshotStore(),
		opts:      opts,
		now:       time.Now,
		guilds:    make(map[string]*guild),
		retiring:  make(map[string]*guild),
		staleLog:  rate.Sometimes{Interval: time.Minute},
	}, nil
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tracker) guild(guildID string, create bool) (*guild, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	g, ok := t.guilds[guildID]
	if !ok {
		if !create {
			return nil, ErrUnknownGuild
		}
		g = newGuild(guildID)
		t.guilds[guildID] = g
		trackedGuildGauge.Inc()
		t.wg.Add(1)
		go t.work(g, t.retiring[guildID])
	}
	return g, nil
}

func (t *Tracker) guildList() []*guild {
	t.mu.Lock()
	defer t.mu.Unlock()
	guilds := make([]*guild, 0, len(t.guilds))
	for _, g := range t.guilds {
		guilds = append(guilds, g)
	}
	return guilds
}

// Ready initializes every guild the bot is in
func (t *Tracker) Ready(ctx context.Context, guildIDs []string) {
	var wg sync.WaitGroup
	for _, guildID := range guildIDs {
		wg.Add(1)
		go func(guildID string) {
			defer wg.Done()
			if err := t.SyncGuild(ctx, guildID); err != nil {
				utils.GuildLogger(guildID).Warn("initial sync failed", zap.Error(err))
			}
		}(guildID)
	}
	wg.Wait()
}

// SyncGuild initializes the guild's snapshot, or refreshes it when it already exists
func (t *Tracker) SyncGuild(ctx context.Context, guildID string) error {
	g, err := t.guild(guildID, true)
	if err != nil {
		return err
	}
	var syncErr error
	if err = t.do(ctx, g, func(ctx context.Context) {
		syncErr = t.sync(ctx, g)
	}); err != nil {
		return err
	}
	return syncErr
}

// InviteCreate and InviteDelete refresh the snapshot without attributing
func (t *Tracker) InviteCreate(ctx context.Context, guildID, code string) error {
	utils.GuildLogger(guildID).Debug("invite created", zap.String("code", code))
	return t.SyncGuild(ctx, guildID)
}

func (t *Tracker) InviteDelete(ctx context.Context, guildID, code string) error {
	utils.GuildLogger(guildID).Debug("invite deleted", zap.String("code", code))
	return t.SyncGuild(ctx, guildID)
}

// MemberJoin attributes a join. It never fails, problems are reported in the Outcome.
func (t *Tracker) MemberJoin(ctx context.Context, event MemberJoin) Outcome {
	if event.JoinedAt.IsZero() {
		event.JoinedAt = t.now()
	}
	logger := utils.GuildLogger(event.GuildID).With(zap.String("member_id", event.MemberID))

	var outcome, result Outcome
	g, err := t.guild(event.GuildID, true)
	if err == nil {
		err = t.do(ctx, g, func(ctx context.Context) {
			result = t.join(ctx, g, event)
		})
	}
	if err != nil {
		outcome = Outcome{Kind: OutcomeDropped, Err: err}
	} else {
		outcome = result
	}
	joinOutcomeCounter.WithLabelValues(string(outcome.Kind)).Inc()

	switch outcome.Kind {
	case OutcomeAttributed, OutcomeAmbiguous:
		logger.Info("join attributed",
			zap.String("outcome", string(outcome.Kind)),
			zap.String("code", outcome.Attribution.Code),
			zap.Int("ambiguous_count", outcome.AmbiguousCount),
			zap.Bool("duplicate", outcome.Ack.Duplicate),
			zap.Bool("rejoin", outcome.Ack.Rejoin))
	case OutcomeUnresolved:
		logger.Warn("join unresolved", zap.Any("candidates", outcome.Candidates))
	case OutcomeUntracked:
		logger.Info("untracked join")
	case OutcomeStale:
		t.staleLog.Do(func() {
			logger.Warn("unattributed join on stale guild", zap.Error(outcome.Err))
		})
	case OutcomeUnpersisted:
		logger.Error("join tracked but not persisted", zap.Error(outcome.Err))
	case OutcomeDropped:
		logger.Warn("join dropped", zap.Error(outcome.Err))
	}
	return outcome
}

// MemberLeave purges the member's attributions when PurgeOnLeave is set
func (t *Tracker) MemberLeave(ctx context.Context, guildID, memberID string) error {
	if !t.opts.PurgeOnLeave {
		return nil
	}
	n, err := t.store.DeleteByInvitee(ctx, guildID, memberID)
	if err != nil {
		return err
	}
	utils.GuildLogger(guildID).Debug("attributions purged",
		zap.String("member_id", memberID), zap.Int64("count", n))
	return nil
}

// GuildRemove forgets a guild the bot has left. Tasks still queued for the
// guild fail with ErrUnknownGuild; the task in flight is waited for.
func (t *Tracker) GuildRemove(ctx context.Context, guildID string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	g, ok := t.guilds[guildID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownGuild
	}
	delete(t.guilds, guildID)
	g.removed = true
	t.retiring[guildID] = g
	close(g.stop)
	t.mu.Unlock()
	trackedGuildGauge.Dec()

	// the snapshot is dropped by the worker itself, even when ctx ends first
	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if t.opts.PurgeOnGuildRemove {
		return t.store.DeleteGuild(ctx, guildID)
	}
	return nil
}

// RefreshStale retries every guild whose last fetch failed
func (t *Tracker) RefreshStale(ctx context.Context) {
	var wg sync.WaitGroup
	for _, g := range t.guildList() {
		wg.Add(1)
		go func(g *guild) {
			defer wg.Done()
			_ = t.do(ctx, g, func(ctx context.Context) {
				if g.stale {
					_ = t.sync(ctx, g)
				}
			})
		}(g)
	}
	wg.Wait()
}

func (t *Tracker) Status(ctx context.Context, guildID string) (GuildStatus, error) {
	g, err := t.guild(guildID, false)
	if err != nil {
		return GuildStatus{}, err
	}
	status := GuildStatus{GuildID: guildID}
	err = t.do(ctx, g, func(context.Context) {
		status.State = g.state.String()
		status.Stale = g.stale
		g.credits.expire(t.now(), t.opts.CreditWindow)
		status.PendingCredits = g.credits.len()
		snapshot, err := t.snapshots.Get(guildID)
		if err != nil {
			return
		}
		now := t.now()
		status.Invites = len(snapshot)
		for _, record := range snapshot {
			if !record.Expired(now) {
				status.ActiveInvites++
			}
		}
	})
	if err != nil {
		return GuildStatus{}, err
	}
	return status, nil
}

// Snapshot returns the current snapshot of a guild
func (t *Tracker) Snapshot(guildID string) (Snapshot, error) {
	return t.snapshots.Get(guildID)
}

// Guilds lists the guilds with an initialized snapshot
func (t *Tracker) Guilds() []string {
	return t.snapshots.Guilds()
}

// Inviter returns the latest attribution of a member, nil when untracked
func (t *Tracker) Inviter(ctx context.Context, guildID, memberID string) (*models.MembershipAttribution, error) {
	return t.store.LoadByInvitee(ctx, guildID, memberID)
}

// InvitedMembers lists the attributions credited to an inviter
func (t *Tracker) InvitedMembers(ctx context.Context, guildID, inviterID string, limit, offset int) (models.Attributions, error) {
	return t.store.LoadByInviter(ctx, guildID, inviterID, limit, offset)
}

// Close stops every guild worker
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, g := range t.guilds {
		close(g.stop)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// sync initializes the snapshot of a new guild. Known guilds are refreshed.
func (t *Tracker) sync(ctx context.Context, g *guild) error {
	if g.state != StateUninitialized {
		return t.refresh(ctx, g)
	}

	invites, err := t.fetch(ctx, g.id)
	if err != nil {
		t.fetchFailed(ctx, g, err)
		return err
	}

	previous, err := t.store.LoadInvites(ctx, g.id)
	if err != nil {
		utils.GuildLogger(g.id).Warn("load stored invites failed", zap.Error(err))
	}
	t.snapshots.Init(g.id, invites)
	g.state = StateSynced
	t.markFresh(g)
	t.saveInvites(ctx, g.id, invites)

	report, err := t.reconcile(ctx, g.id)
	if err != nil {
		utils.GuildLogger(g.id).Warn("startup reconcile failed", zap.Error(err))
		return nil
	}
	if previous != nil {
		report.OfflineUses = Attribute(NewSnapshot(previous), NewSnapshot(invites)).Uses()
	}
	report.log()
	return nil
}

// refresh replaces the snapshot without a join. Uses that appeared since the
// previous snapshot are queued as credits for joins still to come.
func (t *Tracker) refresh(ctx context.Context, g *guild) error {
	wasStale := g.stale
	g.state = StateRefreshing
	defer func() { g.state = StateSynced }()

	invites, err := t.fetch(ctx, g.id)
	if err != nil {
		t.fetchFailed(ctx, g, err)
		return err
	}
	old, err := t.snapshots.Replace(g.id, invites)
	if err != nil {
		return err
	}
	t.markFresh(g)
	t.saveInvites(ctx, g.id, invites)

	result := Attribute(old, NewSnapshot(invites))
	if !wasStale {
		now := t.now()
		for _, c := range result.Candidates {
			g.credits.push(c, c.Delta, now)
		}
	}
	utils.GuildLogger(g.id).Debug("snapshot refreshed",
		zap.Strings("created", result.Created),
		zap.Strings("expired", result.Expired),
		zap.Int("banked_uses", result.Uses()))
	return nil
}

func (t *Tracker) join(ctx context.Context, g *guild, event MemberJoin) Outcome {
	if g.state == StateUninitialized {
		if err := t.sync(ctx, g); err != nil {
			if ctx.Err() != nil {
				return Outcome{Kind: OutcomeDropped, Err: ctx.Err()}
			}
			return Outcome{Kind: OutcomeStale, Err: err}
		}
		// nothing to diff against yet
		return Outcome{Kind: OutcomeUntracked}
	}

	wasStale := g.stale
	g.state = StateDiffing
	defer func() { g.state = StateSynced }()

	invites, err := t.fetch(ctx, g.id)
	if ctx.Err() != nil {
		// the caller gave up, the guild itself is fine
		return Outcome{Kind: OutcomeDropped, Err: ctx.Err()}
	}
	if err != nil {
		t.markStale(g, err)
		return Outcome{Kind: OutcomeStale, Err: err}
	}
	old, err := t.snapshots.Replace(g.id, invites)
	if err != nil {
		return Outcome{Kind: OutcomeUntracked, Err: err}
	}
	t.markFresh(g)
	t.saveInvites(ctx, g.id, invites)

	if wasStale {
		// the previous snapshot missed an unknown number of joins
		return Outcome{Kind: OutcomeStale}
	}

	outcome := t.resolve(g, event, Attribute(old, NewSnapshot(invites)))
	if outcome.Attribution != nil {
		t.persist(ctx, &outcome)
	}
	return outcome
}

// resolve picks the attribution of a join from a diff result and the guild's
// pending credits.
func (t *Tracker) resolve(g *guild, event MemberJoin, result Result) Outcome {
	now := t.now()
	g.credits.expire(now, t.opts.CreditWindow)

	outcome := Outcome{
		Candidates:     result.Candidates,
		AmbiguousCount: result.AmbiguousCount(),
	}
	attribute := func(code string, inviterID *string, ambiguous bool) {
		outcome.Attribution = &models.MembershipAttribution{
			GuildID:   event.GuildID,
			InviteeID: event.MemberID,
			JoinedAt:  event.JoinedAt,
			Code:      code,
			InviterID: inviterID,
			Ambiguous: ambiguous,
		}
		if ambiguous {
			outcome.Kind = OutcomeAmbiguous
		} else {
			outcome.Kind = OutcomeAttributed
		}
	}

	switch {
	case len(result.Candidates) == 0:
		c, ok := g.credits.pop()
		if !ok {
			outcome.Kind = OutcomeUntracked
			return outcome
		}
		attribute(c.Code, c.InviterID, true)

	case !result.Race():
		c := result.Candidates[0]
		g.credits.push(c, c.Delta-1, now)
		attribute(c.Code, c.InviterID, c.Delta > 1)

	case t.opts.RacePolicy == RaceDefer:
		outcome.Kind = OutcomeUnresolved

	default:
		first := result.Candidates[0]
		g.credits.push(first, first.Delta-1, now)
		for _, c := range result.Candidates[1:] {
			g.credits.push(c, c.Delta, now)
		}
		attribute(first.Code, first.InviterID, true)
	}
	return outcome
}

func newBackOff(ctx context.Context, initial time.Duration, retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (t *Tracker) fetch(ctx context.Context, guildID string) ([]models.InviteRecord, error) {
	var invites []models.InviteRecord
	err := backoff.Retry(func() error {
		var err error
		invites, err = t.fetcher.FetchInvites(ctx, guildID)
		if errors.Is(err, ErrFetchForbidden) {
			return backoff.Permanent(err)
		}
		return err
	}, newBackOff(ctx, t.opts.FetchBackoff, t.opts.FetchRetries))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		fetchFailureCounter.Inc()
		return nil, &FetchFailure{GuildID: guildID, Err: err}
	}

	for i := range invites {
		invites[i].GuildID = guildID
	}
	return invites, nil
}

func (t *Tracker) persist(ctx context.Context, outcome *Outcome) {
	var ack models.Ack
	err := backoff.Retry(func() error {
		var err error
		ack, err = t.store.Save(ctx, outcome.Attribution)
		return err
	}, newBackOff(ctx, t.opts.PersistBackoff, t.opts.PersistRetries))
	if err != nil {
		t.keepUnpersisted(*outcome.Attribution)
		outcome.Kind = OutcomeUnpersisted
		outcome.Err = &PersistenceFailure{Attribution: *outcome.Attribution, Err: err}
		return
	}
	outcome.Ack = ack
}

func (t *Tracker) saveInvites(ctx context.Context, guildID string, invites []models.InviteRecord) {
	if err := t.store.SaveInvites(ctx, guildID, invites); err != nil {
		utils.GuildLogger(guildID).Warn("save invites failed", zap.Error(err))
	}
}

// fetchFailed marks the guild stale unless the fetch only ended because ctx did
func (t *Tracker) fetchFailed(ctx context.Context, g *guild, err error) {
	if ctx.Err() != nil {
		utils.GuildLogger(g.id).Debug("fetch abandoned", zap.Error(err))
		return
	}
	t.markStale(g, err)
}

func (t *Tracker) markStale(g *guild, err error) {
	if !g.stale {
		staleGuildGauge.Inc()
		g.stale = true
		utils.GuildLogger(g.id).Warn("guild marked stale", zap.Error(err))
		return
	}
	t.staleLog.Do(func() {
		utils.GuildLogger(g.id).Warn("guild still stale", zap.Error(err))
	})
}

func (t *Tracker) markFresh(g *guild) {
	if g.stale {
		staleGuildGauge.Dec()
		g.stale = false
		utils.GuildLogger(g.id).Info("guild refreshed")
	}
}
