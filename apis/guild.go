package apis

import (
	"errors"

	"invite_tracker/tracker"
	. "invite_tracker/utils"

	"github.com/gofiber/fiber/v2"
)

func trackerError(err error) error {
	if errors.Is(err, tracker.ErrUnknownGuild) {
		return NotFound("guild not tracked")
	}
	return err
}

// GetGuildStatus
// @Summary get the tracking state of a guild
// @Tags Guild
// @Produce json
// @Router /guilds/{guild_id}/status [get]
// @Param guild_id path string true "guild id"
// @Success 200 {object} tracker.GuildStatus
// @Failure 404 {object} utils.HttpError
func GetGuildStatus(c *fiber.Ctx) error {
	var params GuildModel
	if err := ValidateParams(c, &params); err != nil {
		return err
	}

	status, err := Tracker.Status(c.Context(), params.GuildID)
	if err != nil {
		return trackerError(err)
	}
	return c.JSON(status)
}

// ListInvites
// @Summary list the current invite snapshot of a guild
// @Tags Guild
// @Produce json
// @Router /guilds/{guild_id}/invites [get]
// @Param guild_id path string true "guild id"
// @Success 200 {object} InvitesResponse
// @Failure 404 {object} utils.HttpError
func ListInvites(c *fiber.Ctx) error {
	var params GuildModel
	if err := ValidateParams(c, &params); err != nil {
		return err
	}

	snapshot, err := Tracker.Snapshot(params.GuildID)
	if err != nil {
		return trackerError(err)
	}
	return c.JSON(InvitesResponse{
		GuildID: params.GuildID,
		Invites: snapshot.Records(),
	})
}

// RefreshGuild
// @Summary fetch the invites of a guild again
// @Tags Guild
// @Produce json
// @Router /guilds/{guild_id}/refresh [post]
// @Param guild_id path string true "guild id"
// @Success 200 {object} tracker.GuildStatus
// @Failure 404 {object} utils.HttpError
// @Failure 409 {object} utils.HttpError "fetch failed, guild is stale"
func RefreshGuild(c *fiber.Ctx) error {
	var params GuildModel
	if err := ValidateParams(c, &params); err != nil {
		return err
	}

	if _, err := Tracker.Status(c.Context(), params.GuildID); err != nil {
		return trackerError(err)
	}
	err := Tracker.SyncGuild(c.Context(), params.GuildID)
	var fetchFailure *tracker.FetchFailure
	if errors.As(err, &fetchFailure) {
		return Conflict(fetchFailure.Error())
	} else if err != nil {
		return trackerError(err)
	}

	status, err := Tracker.Status(c.Context(), params.GuildID)
	if err != nil {
		return trackerError(err)
	}
	return c.JSON(status)
}

// ReconcileGuild
// @Summary compare stored attributions with the live snapshot
// @Tags Guild
// @Produce json
// @Router /guilds/{guild_id}/reconcile [post]
// @Param guild_id path string true "guild id"
// @Success 200 {object} tracker.ReconcileReport
// @Failure 404 {object} utils.HttpError
func ReconcileGuild(c *fiber.Ctx) error {
	var params GuildModel
	if err := ValidateParams(c, &params); err != nil {
		return err
	}

	report, err := Tracker.Reconcile(c.Context(), params.GuildID)
	if err != nil {
		return trackerError(err)
	}
	return c.JSON(report)
}
