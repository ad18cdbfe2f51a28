package models

import "time"

// InviteRecord is the last known state of one invite code. It is both the
// element of an in-memory snapshot and the row of the guild_invite table that
// keeps use counts across restarts.
type InviteRecord struct {
	GuildID   string     `json:"guild_id" gorm:"primaryKey;size:32"`
	Code      string     `json:"code" gorm:"primaryKey;size:32"`
	InviterID *string    `json:"inviter_id" gorm:"size:32"`
	Uses      int        `json:"uses"`
	MaxUses   *int       `json:"max_uses"` // nil means unlimited
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (InviteRecord) TableName() string {
	return "guild_invite"
}

// Expired reports whether the invite can no longer be used at now
func (record InviteRecord) Expired(now time.Time) bool {
	if record.ExpiresAt != nil && !now.Before(*record.ExpiresAt) {
		return true
	}
	return record.MaxUses != nil && record.Uses >= *record.MaxUses
}
