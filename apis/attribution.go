package apis

import (
	. "invite_tracker/utils"

	"github.com/gofiber/fiber/v2"
)

// GetInviter
// @Summary get the invite a member joined with
// @Tags Attribution
// @Produce json
// @Router /guilds/{guild_id}/members/{member_id}/inviter [get]
// @Param guild_id path string true "guild id"
// @Param member_id path string true "member id"
// @Success 200 {object} models.MembershipAttribution
// @Failure 404 {object} utils.HttpError
func GetInviter(c *fiber.Ctx) error {
	var params MemberModel
	if err := ValidateParams(c, &params); err != nil {
		return err
	}

	attribution, err := Tracker.Inviter(c.Context(), params.GuildID, params.MemberID)
	if err != nil {
		return err
	}
	if attribution == nil {
		return NotFound("join not attributed")
	}
	return c.JSON(attribution)
}

// ListInvitedMembers
// @Summary list the members attributed to an inviter
// @Tags Attribution
// @Produce json
// @Router /guilds/{guild_id}/inviters/{inviter_id}/members [get]
// @Param guild_id path string true "guild id"
// @Param inviter_id path string true "inviter id"
// @Param object query PageQuery false "query"
// @Success 200 {object} InvitedMembersResponse
func ListInvitedMembers(c *fiber.Ctx) error {
	var params InviterModel
	if err := ValidateParams(c, &params); err != nil {
		return err
	}
	var query PageQuery
	if err := ValidateQuery(c, &query); err != nil {
		return err
	}

	members, err := Tracker.InvitedMembers(c.Context(), params.GuildID, params.InviterID, query.Limit, query.Offset)
	if err != nil {
		return err
	}
	return c.JSON(InvitedMembersResponse{
		GuildID:   params.GuildID,
		InviterID: params.InviterID,
		Members:   members,
	})
}
