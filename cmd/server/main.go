package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/agorachat/agora/internal/api"
	"github.com/agorachat/agora/internal/commands"
	"github.com/agorachat/agora/internal/config"
	"github.com/agorachat/agora/internal/cron"
	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/membership"
	"github.com/agorachat/agora/internal/moderation"
	"github.com/agorachat/agora/internal/polls"
	"github.com/agorachat/agora/internal/presence"
	"github.com/agorachat/agora/internal/server"
	"github.com/agorachat/agora/internal/stats"
)

// baseline dictionary applied when no dict file is given; substring
// entries catch embedded spellings
var defaultDict = []moderation.DictEntry{
	{Token: "slur", Substring: true},
	{Token: "bigot"},
	{Token: "kys", Substring: true},
}

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	addr               string
	debugAddr          string
	dsn                string
	signingKey         string
	redisAddr          string
	classifierEndpoint string
	classifierAPIKey   string
	migrationsURL      string
	sweepInterval      time.Duration
	allowedOrigins     stringSliceFlag
)

func main() {
	// a missing .env file is fine; flags and real env still apply
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("AGORA_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&debugAddr, "debug-addr", envOr("AGORA_DEBUG_ADDR", "localhost:8001"), "debug/metrics server address")
	flag.StringVar(&dsn, "dsn", envOr("AGORA_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("AGORA_SIGNING_KEY"), "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", envOr("AGORA_REDIS_ADDR", "localhost:6379"), "redis address for the background task queue")
	flag.StringVar(&classifierEndpoint, "classifier-endpoint", os.Getenv("AGORA_CLASSIFIER_ENDPOINT"), "content classifier endpoint")
	flag.StringVar(&classifierAPIKey, "classifier-api-key", os.Getenv("AGORA_CLASSIFIER_API_KEY"), "content classifier API key")
	flag.StringVar(&migrationsURL, "migrations-url", envOr("AGORA_MIGRATIONS_URL", "file://migrations"), "migrations source URL")
	flag.DurationVar(&sweepInterval, "sweep-interval", time.Minute, "expiry sweep interval for join requests and polls")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[agora] ", log.LstdFlags)

	cfg, err := config.NewConfig(config.Options{
		ServerAddr:         addr,
		DatabaseDSN:        dsn,
		Base64Secret:       signingKey,
		AllowedOrigins:     allowedOrigins,
		RedisAddr:          redisAddr,
		ClassifierEndpoint: classifierEndpoint,
		ClassifierAPIKey:   classifierAPIKey,
		MigrationsURL:      migrationsURL,
		SweepInterval:      sweepInterval,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	if err := database.RunMigrations(cfg.MigrationsURL, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrations:", err)
	}

	dbConn, err := database.NewPgAgoraRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	debugMux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(debugMux)

	registry := presence.NewRegistry(logger)
	chain := moderation.NewChain(moderation.NewProfanityFilter(defaultDict))

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	taskClient := asynq.NewClient(redisOpt)
	defer taskClient.Close()
	enqueuer := moderation.NewAsynqEnqueuer(taskClient)

	weather := commands.NewWeatherCommand(commands.NewWttrProvider(""))
	dispatcher := commands.NewDispatcher(dbConn, logger, commands.DefaultCommands(dbConn, weather)...)

	chatServer, err := server.NewChatServer(logger, dbConn, registry, chain, dispatcher, enqueuer, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	membershipSvc := membership.NewService(dbConn, registry, logger)
	pollSvc := polls.NewService(dbConn, registry, chatServer, logger)

	taskServer := asynq.NewServer(redisOpt, asynq.Config{Concurrency: 5})
	taskMux := asynq.NewServeMux()
	moderation.RegisterClassifyHandler(taskMux,
		moderation.NewHTTPClassifier(cfg.ClassifierEndpoint, cfg.ClassifierAPIKey),
		dbConn, registry, logger)
	if err := taskServer.Start(taskMux); err != nil {
		logger.Fatal("task server:", err)
	}
	defer taskServer.Shutdown()

	scheduler, err := cron.NewScheduler(cfg.SweepInterval, membershipSvc, pollSvc, logger)
	if err != nil {
		logger.Fatal("scheduler:", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := api.NewAgoraApp(logger, chatServer, dbConn, membershipSvc, pollSvc, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	go func() {
		logger.Printf("debug server on %s\n", debugAddr)
		if err := http.ListenAndServe(debugAddr, debugMux); err != nil {
			logger.Println("debug server:", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	chatServer.Shutdown()

	logger.Println("shutdown complete")
}
