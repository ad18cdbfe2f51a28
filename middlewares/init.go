package middlewares

import (
	"time"

	"invite_tracker/config"
	"invite_tracker/utils"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func RegisterMiddlewares(app *fiber.App) {
	if config.Config.Mode != "test" {
		app.Use(MyLogger)
	}
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))

	// prometheus
	prom := fiberprometheus.New(config.AppName)
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
}

func MyLogger(c *fiber.Ctx) error {
	startTime := time.Now()
	chainErr := c.Next()

	if chainErr != nil {
		if err := c.App().ErrorHandler(c, chainErr); err != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	latency := time.Since(startTime).Milliseconds()
	output := []zap.Field{
		zap.Int("status_code", c.Response().StatusCode()),
		zap.String("method", c.Method()),
		zap.String("origin_url", c.OriginalURL()),
		zap.String("remote_ip", utils.GetRealIP(c)),
		zap.Int64("latency", latency),
	}
	if guildID := c.Params("guild_id"); guildID != "" {
		output = append(output, zap.String("guild_id", guildID))
	}
	if chainErr != nil {
		output = append(output, zap.Error(chainErr))
	}
	utils.Logger.Info("http log", output...)
	return nil
}
