//	@title			Invite Tracker
//	@version		0.0.1
//	@description	Attributes discord guild joins to the invites that were used

//	@host		localhost:8000
//	@BasePath	/api

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invite_tracker/apis"
	"invite_tracker/config"
	"invite_tracker/middlewares"
	"invite_tracker/models"
	"invite_tracker/service"
	"invite_tracker/tracker"
	"invite_tracker/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const taskTimeout = 10 * time.Minute

func main() {
	config.InitConfig()
	if config.Config.Debug {
		utils.LogLevel.SetLevel(zap.DebugLevel)
	}
	models.InitDB()

	racePolicy, err := tracker.ParseRacePolicy(config.Config.RacePolicy)
	if err != nil {
		panic(err)
	}
	duplicateJoinPolicy, err := models.ParseDuplicateJoinPolicy(config.Config.DuplicateJoinPolicy)
	if err != nil {
		panic(err)
	}
	store := models.NewAttributionStore(models.DB, duplicateJoinPolicy, config.Config.LookupCacheExpire)

	// connect to discord
	session, err := service.NewSession(config.Config.DiscordToken)
	if err != nil {
		panic(err)
	}
	gateway := service.NewGateway(session)
	t, err := tracker.New(gateway, store, tracker.Options{
		FetchRetries:       config.Config.FetchRetries,
		FetchBackoff:       config.Config.FetchBackoff,
		PersistRetries:     config.Config.PersistRetries,
		PersistBackoff:     config.Config.PersistBackoff,
		RacePolicy:         racePolicy,
		CreditWindow:       config.Config.CreditWindow,
		PurgeOnLeave:       config.Config.PurgeOnLeave,
		PurgeOnGuildRemove: config.Config.PurgeOnGuildRemove,
	})
	if err != nil {
		panic(err)
	}
	gateway.Attach(t)
	if err = session.Open(); err != nil {
		panic(err)
	}

	app := fiber.New(fiber.Config{
		AppName:      config.AppName,
		ErrorHandler: utils.MyErrorHandler,
	})
	middlewares.RegisterMiddlewares(app)
	apis.RegisterRoutes(app, t)

	c := startTasks(t)

	go func() {
		if err := app.Listen(config.Config.ListenAddr); err != nil {
			log.Println(err)
		}
	}()

	interrupt := make(chan os.Signal, 1)

	// wait for CTRL-C interrupt
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-interrupt

	// close app
	err = app.Shutdown()
	if err != nil {
		log.Println(err)
	}
	<-c.Stop().Done()
	if err = session.Close(); err != nil {
		log.Println(err)
	}
	gateway.Close()
	t.Close()
	if _, err = t.FlushUnpersisted(context.Background()); err != nil {
		utils.Logger.Error("unpersisted attributions lost on shutdown",
			zap.Int("count", len(t.Unpersisted())), zap.Error(err))
	}

	_ = utils.Logger.Sync()
}

func startTasks(t *tracker.Tracker) *cron.Cron {
	c := cron.New()
	addTask(c, config.Config.StaleRefreshCron, t.RefreshStale)
	addTask(c, config.Config.FlushCron, func(ctx context.Context) {
		_, _ = t.FlushUnpersisted(ctx)
	})
	addTask(c, config.Config.ReconcileCron, t.ReconcileAll)
	c.Start()
	return c
}

func addTask(c *cron.Cron, spec string, task func(ctx context.Context)) {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		task(ctx)
	})
	if err != nil {
		panic(err)
	}
}
