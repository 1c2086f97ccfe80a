// Command adkitd runs the entitlement and ad-cadence controller as a small
// HTTP service: UI clients post lifecycle events, query entitlement and ad
// readiness, and subscribe to change events over WebSocket. The ad network
// itself is simulated (see adnet.go); production embeds the library against a
// real SDK bridge instead.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/adkit"
	adgin "github.com/open-rails/adkit/adapters/gin"
	adws "github.com/open-rails/adkit/adapters/ws"
	"github.com/open-rails/adkit/kv"
	"github.com/open-rails/adkit/schedule"
	memorystore "github.com/open-rails/adkit/storage/memory"
	pgstore "github.com/open-rails/adkit/storage/postgres"
	redisstore "github.com/open-rails/adkit/storage/redis"
)

type config struct {
	HTTPAddr    string  `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    string  `env:"LOG_LEVEL" envDefault:"info"`
	Storage     string  `env:"STORAGE" envDefault:"memory"` // memory | redis | postgres
	RedisAddr   string  `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass   string  `env:"REDIS_PASS"`
	RedisDB     int     `env:"REDIS_DB" envDefault:"0"`
	DatabaseURL string  `env:"DATABASE_URL"`
	AdminSecret string  `env:"ADMIN_SECRET,required"`
	ResetCron   string  `env:"RESET_CRON" envDefault:"0 0 * * *"`
	AdLatencyMS int     `env:"AD_LATENCY_MS" envDefault:"800"`
	AdFailRate  float64 `env:"AD_FAIL_RATE" envDefault:"0.1"`
}

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.WithError(err).Fatal("parse config")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	store, cleanup, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open storage")
	}
	defer cleanup()

	net := newSimulatedNetwork(time.Duration(cfg.AdLatencyMS)*time.Millisecond, cfg.AdFailRate, log)

	kit, err := adkit.New(adkit.Options{
		Loader:    net,
		Presenter: net,
		Store:     store,
		Logger:    log,
	})
	if err != nil {
		log.WithError(err).Fatal("assemble controller")
	}
	defer kit.Close()
	kit.LoadAll()

	reset, err := schedule.NewDailyReset(kit.Gate, cfg.ResetCron, log)
	if err != nil {
		log.WithError(err).Fatal("daily reset schedule")
	}
	reset.Start()
	defer reset.Stop()

	hub := adws.NewHub(kit.Bus, log)
	go hub.Run()
	defer hub.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	adgin.Mount(r, kit, adgin.Config{AdminSecret: []byte(cfg.AdminSecret)})
	r.GET("/ws", gin.WrapH(hub))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("adkitd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}

func openStore(cfg config, log *logrus.Logger) (kv.Store, func(), error) {
	switch cfg.Storage {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		return redisstore.New(rdb, ""), func() { rdb.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := pgstore.New(pool, "")
		if err := st.Migrate(context.Background()); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	default:
		log.Warn("using in-memory storage, entitlement will not survive restarts")
		return memorystore.New(), func() {}, nil
	}
}
