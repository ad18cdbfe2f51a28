package apis

import (
	"invite_tracker/tracker"

	"github.com/gofiber/fiber/v2"
)

var Tracker *tracker.Tracker

func RegisterRoutes(app *fiber.App, t *tracker.Tracker) {
	Tracker = t

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/api")
	})

	// meta
	routes := app.Group("/api")
	routes.Get("/", Index)

	// guild state
	routes.Get("/guilds/:guild_id/status", GetGuildStatus)
	routes.Get("/guilds/:guild_id/invites", ListInvites)
	routes.Post("/guilds/:guild_id/refresh", RefreshGuild)
	routes.Post("/guilds/:guild_id/reconcile", ReconcileGuild)

	// attributions
	routes.Get("/guilds/:guild_id/members/:member_id/inviter", GetInviter)
	routes.Get("/guilds/:guild_id/inviters/:inviter_id/members", ListInvitedMembers)
}
