package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v8"
)

const AppName = "invite_tracker"

var Config struct {
	Mode     string `env:"MODE" envDefault:"dev"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`
	DbUrl    string `env:"DB_URL"`
	RedisUrl string `env:"REDIS_URL"`

	DiscordToken string `env:"DISCORD_TOKEN,required"`
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:"0.0.0.0:8000"`

	// invite list fetch, retried then the guild is marked stale
	FetchRetries int           `env:"FETCH_RETRIES" envDefault:"1"`
	FetchBackoff time.Duration `env:"FETCH_BACKOFF" envDefault:"500ms"`

	// attribution writes, kept as unpersisted on exhaustion
	PersistRetries int           `env:"PERSIST_RETRIES" envDefault:"3"`
	PersistBackoff time.Duration `env:"PERSIST_BACKOFF" envDefault:"200ms"`

	RacePolicy   string        `env:"RACE_POLICY" envDefault:"highest_delta"` // one of highest_delta or defer
	CreditWindow time.Duration `env:"CREDIT_WINDOW" envDefault:"30s"`

	DuplicateJoinPolicy string `env:"DUPLICATE_JOIN_POLICY" envDefault:"append"` // one of append or first
	PurgeOnLeave        bool   `env:"PURGE_ON_LEAVE" envDefault:"false"`
	PurgeOnGuildRemove  bool   `env:"PURGE_ON_GUILD_REMOVE" envDefault:"false"`

	LookupCacheExpire time.Duration `env:"LOOKUP_CACHE_EXPIRE" envDefault:"1h"`

	// cron
	StaleRefreshCron string `env:"STALE_REFRESH_CRON" envDefault:"@every 1m"`
	FlushCron        string `env:"FLUSH_CRON" envDefault:"@every 5m"`
	ReconcileCron    string `env:"RECONCILE_CRON" envDefault:"CRON_TZ=UTC 0 4 * * *"`
}

func InitConfig() {
	var err error
	if err = env.Parse(&Config); err != nil {
		panic(err)
	}
	if Config.Debug {
		fmt.Printf("mode: %s, db: %t, redis: %t\n", Config.Mode, Config.DbUrl != "", Config.RedisUrl != "")
	}

	InitCache()
}
