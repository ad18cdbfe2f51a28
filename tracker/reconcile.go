package tracker

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"invite_tracker/models"
	"invite_tracker/utils"
)

// CodeDrift compares the live use count of an invite with the number of
// joins stored for it
type CodeDrift struct {
	Code       string `json:"code"`
	Live       int    `json:"live"`
	Attributed int    `json:"attributed"`
	Untracked  int    `json:"untracked"`
}

// ReconcileReport describes how far stored attributions are from the live
// snapshot. The live snapshot is never changed to match the stored history:
// untracked uses are joins that happened before tracking began, while the
// process was down or whose attribution was dropped.
type ReconcileReport struct {
	GuildID     string         `json:"guild_id"`
	Derived     map[string]int `json:"derived"`
	Drift       []CodeDrift    `json:"drift"`
	Untracked   int            `json:"untracked"`
	OfflineUses int            `json:"offline_uses"`
	Flushed     int            `json:"flushed"`
	FlushError  string         `json:"flush_error,omitempty"`
}

func (r *ReconcileReport) log() {
	logger := utils.GuildLogger(r.GuildID)
	if len(r.Drift) == 0 && r.OfflineUses == 0 && r.FlushError == "" {
		logger.Debug("reconciled", zap.Int("flushed", r.Flushed))
		return
	}
	logger.Info("reconciled with drift",
		zap.Int("untracked", r.Untracked),
		zap.Int("offline_uses", r.OfflineUses),
		zap.Int("flushed", r.Flushed),
		zap.String("flush_error", r.FlushError),
		zap.Any("drift", r.Drift))
}

// Reconcile flushes unpersisted attributions of the guild and compares the
// stored history with the live snapshot.
func (t *Tracker) Reconcile(ctx context.Context, guildID string) (*ReconcileReport, error) {
	g, err := t.guild(guildID, false)
	if err != nil {
		return nil, err
	}
	var (
		report    *ReconcileReport
		reportErr error
	)
	if err = t.do(ctx, g, func(ctx context.Context) {
		report, reportErr = t.reconcile(ctx, guildID)
	}); err != nil {
		return nil, err
	}
	if reportErr != nil {
		return nil, reportErr
	}
	report.log()
	return report, nil
}

// ReconcileAll runs Reconcile for every tracked guild
func (t *Tracker) ReconcileAll(ctx context.Context) {
	for _, guildID := range t.snapshots.Guilds() {
		if _, err := t.Reconcile(ctx, guildID); err != nil {
			utils.GuildLogger(guildID).Warn("reconcile failed", zap.Error(err))
		}
	}
}

func (t *Tracker) reconcile(ctx context.Context, guildID string) (*ReconcileReport, error) {
	live, err := t.snapshots.Get(guildID)
	if err != nil {
		return nil, err
	}
	flushed, flushErr := t.flush(ctx, guildID)
	derived, err := t.store.ReconcileOnStartup(ctx, guildID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		GuildID: guildID,
		Derived: derived,
		Drift:   []CodeDrift{},
		Flushed: flushed,
	}
	if flushErr != nil {
		report.FlushError = flushErr.Error()
	}
	for code, record := range live {
		attributed := derived[code]
		if record.Uses == attributed {
			continue
		}
		drift := CodeDrift{
			Code:       code,
			Live:       record.Uses,
			Attributed: attributed,
			Untracked:  record.Uses - attributed,
		}
		report.Drift = append(report.Drift, drift)
		if drift.Untracked > 0 {
			report.Untracked += drift.Untracked
		}
	}
	sort.Slice(report.Drift, func(i, j int) bool {
		return report.Drift[i].Code < report.Drift[j].Code
	})
	untrackedUsesGauge.WithLabelValues(guildID).Set(float64(report.Untracked))
	return report, nil
}

func (t *Tracker) keepUnpersisted(attribution models.MembershipAttribution) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	t.unpersisted = append(t.unpersisted, attribution)
	unpersistedGauge.Set(float64(len(t.unpersisted)))
}

// Unpersisted returns the attributions still waiting to be written
func (t *Tracker) Unpersisted() []models.MembershipAttribution {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return append([]models.MembershipAttribution(nil), t.unpersisted...)
}

// FlushUnpersisted retries every attribution whose save failed
func (t *Tracker) FlushUnpersisted(ctx context.Context) (int, error) {
	return t.flush(ctx, "")
}

// flush saves the unpersisted attributions of guildID, or of every guild when
// guildID is empty. Failed ones are kept for the next attempt.
func (t *Tracker) flush(ctx context.Context, guildID string) (int, error) {
	t.pendingMu.Lock()
	var batch, rest []models.MembershipAttribution
	for _, attribution := range t.unpersisted {
		if guildID == "" || attribution.GuildID == guildID {
			batch = append(batch, attribution)
		} else {
			rest = append(rest, attribution)
		}
	}
	t.unpersisted = rest
	t.pendingMu.Unlock()

	var (
		flushed int
		lastErr error
		failed  []models.MembershipAttribution
	)
	for i := range batch {
		if _, err := t.store.Save(ctx, &batch[i]); err != nil {
			lastErr = err
			failed = append(failed, batch[i])
			continue
		}
		flushed++
	}

	t.pendingMu.Lock()
	t.unpersisted = append(t.unpersisted, failed...)
	unpersistedGauge.Set(float64(len(t.unpersisted)))
	t.pendingMu.Unlock()

	if lastErr != nil {
		utils.Logger.Warn("flush unpersisted attributions",
			zap.Int("flushed", flushed), zap.Int("failed", len(failed)), zap.Error(lastErr))
	}
	return flushed, lastErr
}
