package apis

import "invite_tracker/models"

type GuildModel struct {
	GuildID string `params:"guild_id" validate:"required,snowflake"`
}

type MemberModel struct {
	GuildID  string `params:"guild_id" validate:"required,snowflake"`
	MemberID string `params:"member_id" validate:"required,snowflake"`
}

type InviterModel struct {
	GuildID   string `params:"guild_id" validate:"required,snowflake"`
	InviterID string `params:"inviter_id" validate:"required,snowflake"`
}

type PageQuery struct {
	Limit  int `query:"limit" default:"50" validate:"min=1,max=500"`
	Offset int `query:"offset" default:"0" validate:"min=0"`
}

type IndexResponse struct {
	Name   string   `json:"name"`
	Guilds []string `json:"guilds"`
}

type InvitesResponse struct {
	GuildID string                `json:"guild_id"`
	Invites []models.InviteRecord `json:"invites"`
}

type InvitedMembersResponse struct {
	GuildID   string              `json:"guild_id"`
	InviterID string              `json:"inviter_id"`
	Members   models.Attributions `json:"members"`
}
