package main

import (
	"context"
	"delivery-dashboard/internal/adapters/backend"
	"delivery-dashboard/internal/adapters/cache"
	"delivery-dashboard/internal/adapters/memory"
	"delivery-dashboard/internal/adapters/roads"
	"delivery-dashboard/internal/api"
	"delivery-dashboard/internal/config"
	"delivery-dashboard/internal/dashboard"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/db"
	"delivery-dashboard/internal/ports"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

// main is the application composition root.
// It wires the backend (remote or seeded), the caches and the HTTP surface
// around one Dashboard and runs until SIGINT/SIGTERM.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := newBackend(cfg)
	if err != nil {
		log.Fatal(err)
	}
	checkBackend(ctx, be)

	var opts []dashboard.Option
	if cfg.Cache.DBDriver != "" {
		sqlDB, dialect, err := db.Open(cfg.Cache.DBDriver, cfg.Cache.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}
		defer sqlDB.Close()

		if err := cache.InitSchema(ctx, sqlDB, dialect); err != nil {
			log.Fatal(err)
		}
		opts = append(opts, dashboard.WithSampleCache(cache.NewSQLSampleCache(sqlDB, dialect)))
		log.Printf("op=main.cache driver=%s", dialect)
	}
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		defer rdb.Close()

		entities := cache.NewRedisEntityCache(rdb, cfg.Cache.RedisPrefix, cfg.Cache.EntityTTL)
		if err := entities.Ping(ctx); err != nil {
			// The dashboard runs without a warm start rather than failing.
			log.Printf("op=main.redis addr=%s err=%v", cfg.Cache.RedisAddr, err)
		} else {
			opts = append(opts, dashboard.WithEntityCache(entities))
		}
	}

	d := dashboard.New(be, dashboard.Config{
		PollInterval:    cfg.Dashboard.PollInterval,
		MaxBackoff:      cfg.Dashboard.MaxBackoff,
		HistoryLimit:    cfg.Dashboard.HistoryLimit,
		SampleCapacity:  cfg.Dashboard.SampleCapacity,
		WindowSize:      cfg.Dashboard.WindowSize,
		NoticeAfter:     cfg.Dashboard.NoticeAfter,
		DefaultDepot:    cfg.Dashboard.DefaultDepot,
		Palette:         cfg.Dashboard.Palette,
		RefreshInterval: cfg.Dashboard.RefreshInterval,
	}, opts...)
	defer d.Close()

	go func() {
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("op=dashboard.run err=%v", err)
		}
	}()

	// WriteTimeout stays generous: optimizations block the request until the
	// backend answers. Websocket streams set their own write deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(d, trainingDefaults(cfg.Training)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		d.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("op=main.shutdown err=%v", err)
		}
	}()

	log.Printf("Server listening addr=:%s offline=%t", cfg.Port, cfg.Backend.Offline)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Println("Server stopped")
}

// loadConfig layers command-line flags over config.Load.
func loadConfig() (*config.Config, error) {
	fs := pflag.NewFlagSet("dashboard", pflag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file (overrides DASHBOARD_CONFIG)")
	port := fs.String("port", "", "HTTP listen port")
	offline := fs.Bool("offline", false, "serve a seeded in-process backend")
	seed := fs.String("seed", "", "seed file for offline mode")
	backendURL := fs.String("backend-url", "", "optimization backend base URL")
	_ = fs.Parse(os.Args[1:])

	if *configPath != "" {
		if err := os.Setenv("DASHBOARD_CONFIG", *configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if fs.Changed("port") {
		cfg.Port = *port
	}
	if fs.Changed("offline") {
		cfg.Backend.Offline = *offline
	}
	if fs.Changed("seed") {
		cfg.Backend.SeedPath = *seed
	}
	if fs.Changed("backend-url") {
		cfg.Backend.URL = *backendURL
	}
	return cfg, cfg.Validate()
}

func newBackend(cfg *config.Config) (ports.Backend, error) {
	session := &http.Client{Timeout: cfg.Backend.Timeout}

	if !cfg.Backend.Offline {
		opts := []backend.Option{backend.WithHTTPClient(session)}
		if cfg.Backend.APIKey != "" {
			opts = append(opts, backend.WithAPIKey(cfg.Backend.APIKey))
		}
		log.Printf("op=main.backend url=%s", cfg.Backend.URL)
		return backend.NewClient(cfg.Backend.URL, opts...)
	}

	seed, err := memory.LoadSeed(cfg.Backend.SeedPath)
	if err != nil {
		return nil, err
	}
	opts := []memory.Option{memory.WithEpisodeRate(cfg.Backend.EpisodesPerSecond)}
	if cfg.Roads.ORSKey != "" {
		router, err := roads.NewORSRouter(cfg.Roads.ORSKey, cfg.Roads.BaseURL, session)
		if err != nil {
			return nil, err
		}
		opts = append(opts, memory.WithRoads(router))
	}
	log.Printf("op=main.backend offline=true seed=%s roads=%t", cfg.Backend.SeedPath, cfg.Roads.ORSKey != "")
	return memory.NewBackend(seed, opts...), nil
}

// checkBackend logs whether a remote backend answers. The dashboard starts
// either way and shows a connection notice until it does.
func checkBackend(ctx context.Context, be ports.Backend) {
	client, ok := be.(*backend.Client)
	if !ok {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		log.Printf("op=main.ping err=%v", err)
		return
	}
	log.Printf("op=main.ping status=ok")
}

func trainingDefaults(t config.TrainingDefaults) domain.TrainingConfig {
	out := domain.DefaultTrainingConfig()
	if t.ModelName != "" {
		out.ModelName = t.ModelName
	}
	if t.Episodes > 0 {
		out.Episodes = t.Episodes
	}
	if t.LearningRate > 0 {
		out.LearningRate = t.LearningRate
	}
	return out
}
