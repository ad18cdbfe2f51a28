package apis

import (
	"invite_tracker/config"

	"github.com/gofiber/fiber/v2"
)

// Index
//
//	@Produce	application/json
//	@Router		/ [get]
//	@Success	200	{object}	IndexResponse
func Index(c *fiber.Ctx) error {
	return c.JSON(IndexResponse{
		Name:   config.AppName,
		Guilds: Tracker.Guilds(),
	})
}
