package models

import (
	"context"
	"errors"
	"fmt"
	"invite_tracker/config"
	"invite_tracker/utils"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MembershipAttribution links a member who joined a guild to the invite code
// they used. Rows are never updated; a retried save of the same join is a no-op.
type MembershipAttribution struct {
	ID        int       `json:"-" gorm:"primaryKey"`
	GuildID   string    `json:"guild_id" gorm:"size:32;uniqueIndex:idx_attribution_join,priority:1;index:idx_attribution_inviter,priority:1"`
	InviteeID string    `json:"invitee_id" gorm:"size:32;uniqueIndex:idx_attribution_join,priority:2"`
	JoinedAt  time.Time `json:"joined_at" gorm:"uniqueIndex:idx_attribution_join,priority:3"`
	Code      string    `json:"code" gorm:"size:32;index"`
	InviterID *string   `json:"inviter_id" gorm:"size:32;index:idx_attribution_inviter,priority:2"`
	Ambiguous bool      `json:"ambiguous"` // resolved through the join-order queue
	Rejoin    bool      `json:"rejoin"`
}

type Attributions []MembershipAttribution

type DuplicateJoinPolicy string

const (
	// DuplicateJoinAppend stores every distinct join and flags re-joins
	DuplicateJoinAppend DuplicateJoinPolicy = "append"
	// DuplicateJoinFirst keeps only the first join of an invitee
	DuplicateJoinFirst DuplicateJoinPolicy = "first"
)

func ParseDuplicateJoinPolicy(s string) (DuplicateJoinPolicy, error) {
	switch policy := DuplicateJoinPolicy(s); policy {
	case DuplicateJoinAppend, DuplicateJoinFirst:
		return policy, nil
	}
	return "", fmt.Errorf("unknown duplicate join policy %q", s)
}

// Ack is the result of a save
type Ack struct {
	Created   bool
	Duplicate bool
	Rejoin    bool
}

type AttributionStore struct {
	db          *gorm.DB
	policy      DuplicateJoinPolicy
	cacheExpire time.Duration
}

func NewAttributionStore(db *gorm.DB, policy DuplicateJoinPolicy, cacheExpire time.Duration) *AttributionStore {
	if policy == "" {
		policy = DuplicateJoinAppend
	}
	return &AttributionStore{db: db, policy: policy, cacheExpire: cacheExpire}
}

func inviterCacheKey(guildID, inviteeID string) string {
	return "invite_tracker_inviter:" + guildID + ":" + inviteeID
}

func invitedCacheKey(guildID, inviterID string) string {
	return "invite_tracker_invited:" + guildID + ":" + inviterID
}

// Save stores the attribution. Saving the same (guild, invitee, joined_at)
// twice creates one row.
func (s *AttributionStore) Save(ctx context.Context, attribution *MembershipAttribution) (Ack, error) {
	attribution.JoinedAt = attribution.JoinedAt.UTC().Truncate(time.Millisecond)

	var ack Ack
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior int64
		err := tx.Model(&MembershipAttribution{}).
			Where("guild_id = ? AND invitee_id = ? AND joined_at <> ?",
				attribution.GuildID, attribution.InviteeID, attribution.JoinedAt).
			Count(&prior).Error
		if err != nil {
			return err
		}
		if prior > 0 && s.policy == DuplicateJoinFirst {
			ack.Duplicate = true
			return nil
		}
		attribution.Rejoin = prior > 0

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(attribution)
		if result.Error != nil {
			return result.Error
		}
		ack.Created = result.RowsAffected > 0
		ack.Duplicate = !ack.Created
		ack.Rejoin = ack.Created && attribution.Rejoin
		return nil
	})
	if err != nil {
		return Ack{}, err
	}

	if ack.Created {
		s.invalidate(ctx, attribution.GuildID, attribution.InviteeID, attribution.InviterID)
	}
	return ack, nil
}

// LoadByInvitee returns the latest attribution of the invitee, nil if none
func (s *AttributionStore) LoadByInvitee(ctx context.Context, guildID, inviteeID string) (*MembershipAttribution, error) {
	var cached MembershipAttribution
	cacheKey := inviterCacheKey(guildID, inviteeID)
	if config.GetCache(ctx, cacheKey, &cached) == nil {
		return &cached, nil
	}

	var attribution MembershipAttribution
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND invitee_id = ?", guildID, inviteeID).
		Order("joined_at DESC").
		Take(&attribution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err = config.SetCache(ctx, cacheKey, attribution, s.cacheExpire); err != nil {
		utils.Logger.Warn("set inviter cache failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return &attribution, nil
}

// LoadByInviter lists the members attributed to invites of inviterID, oldest first
func (s *AttributionStore) LoadByInviter(ctx context.Context, guildID, inviterID string, limit, offset int) (Attributions, error) {
	var attributions Attributions
	cacheKey := invitedCacheKey(guildID, inviterID)
	if config.GetCache(ctx, cacheKey, &attributions) != nil {
		attributions = nil
		err := s.db.WithContext(ctx).
			Where("guild_id = ? AND inviter_id = ?", guildID, inviterID).
			Order("joined_at ASC").
			Find(&attributions).Error
		if err != nil {
			return nil, err
		}
		if err = config.SetCache(ctx, cacheKey, attributions, s.cacheExpire); err != nil {
			utils.Logger.Warn("set invited cache failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}

	if offset >= len(attributions) {
		return Attributions{}, nil
	}
	attributions = attributions[offset:]
	if limit > 0 && limit < len(attributions) {
		attributions = attributions[:limit]
	}
	return attributions, nil
}

// ReconcileOnStartup derives per-code use counts from the stored attributions
func (s *AttributionStore) ReconcileOnStartup(ctx context.Context, guildID string) (map[string]int, error) {
	var rows []struct {
		Code string
		Uses int
	}
	err := s.db.WithContext(ctx).
		Model(&MembershipAttribution{}).
		Select("code, count(*) AS uses").
		Where("guild_id = ?", guildID).
		Group("code").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	uses := make(map[string]int, len(rows))
	for _, row := range rows {
		uses[row.Code] = row.Uses
	}
	return uses, nil
}

// DeleteByInvitee purges every attribution of the invitee and returns how many were removed
func (s *AttributionStore) DeleteByInvitee(ctx context.Context, guildID, inviteeID string) (int64, error) {
	var attributions Attributions
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND invitee_id = ?", guildID, inviteeID).
		Find(&attributions).Error
	if err != nil {
		return 0, err
	}
	if len(attributions) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).
		Where("guild_id = ? AND invitee_id = ?", guildID, inviteeID).
		Delete(&MembershipAttribution{})
	if result.Error != nil {
		return 0, result.Error
	}
	for i := range attributions {
		s.invalidate(ctx, guildID, inviteeID, attributions[i].InviterID)
	}
	return result.RowsAffected, nil
}

// DeleteGuild purges attributions and stored invites of a guild
func (s *AttributionStore) DeleteGuild(ctx context.Context, guildID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("guild_id = ?", guildID).Delete(&MembershipAttribution{}).Error; err != nil {
			return err
		}
		return tx.Where("guild_id = ?", guildID).Delete(&InviteRecord{}).Error
	})
	if err != nil {
		return err
	}
	// lookup keys of a guild cannot be enumerated
	return config.ClearCache(ctx)
}

// SaveInvites replaces the stored last-known invites of a guild
func (s *AttributionStore) SaveInvites(ctx context.Context, guildID string, invites []InviteRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("guild_id = ?", guildID).Delete(&InviteRecord{}).Error; err != nil {
			return err
		}
		if len(invites) == 0 {
			return nil
		}
		rows := append([]InviteRecord(nil), invites...)
		return tx.CreateInBatches(&rows, 100).Error
	})
}

func (s *AttributionStore) LoadInvites(ctx context.Context, guildID string) ([]InviteRecord, error) {
	var invites []InviteRecord
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).Order("code").Find(&invites).Error
	return invites, err
}

func (s *AttributionStore) invalidate(ctx context.Context, guildID, inviteeID string, inviterID *string) {
	if err := config.DeleteCache(ctx, inviterCacheKey(guildID, inviteeID)); err != nil {
		utils.Logger.Warn("delete inviter cache failed", zap.Error(err))
	}
	if inviterID == nil {
		return
	}
	if err := config.DeleteCache(ctx, invitedCacheKey(guildID, *inviterID)); err != nil {
		utils.Logger.Warn("delete invited cache failed", zap.Error(err))
	}
}
