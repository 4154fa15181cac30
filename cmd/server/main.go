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

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/hubchat/hubchat/internal/api"
	"github.com/hubchat/hubchat/internal/auth"
	"github.com/hubchat/hubchat/internal/config"
	"github.com/hubchat/hubchat/internal/database"
	"github.com/hubchat/hubchat/internal/gate"
	"github.com/hubchat/hubchat/internal/hub"
	"github.com/hubchat/hubchat/internal/notify"
	"github.com/hubchat/hubchat/internal/presence"
	"github.com/hubchat/hubchat/internal/pubsub"
	"github.com/hubchat/hubchat/internal/stats"
)

const defaultSigningKey = "aVpmKxFbR4O0q7TUeZ0lQiJ1c0XhZ8uLQG2DnT0S9rM="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	redisAddr      string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address for presence and broadcast")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[hubchat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, redisAddr, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgHubChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("redis ping:", err)
	}
	defer rdb.Close()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	bus := pubsub.NewRedisBus(rdb, logger)
	presenceStore := presence.NewRedisStore(rdb)
	membershipGate := gate.NewMembershipGate(dbConn)
	resolver := auth.NewTokenResolver(dbConn, cfg.SigningKey)
	notifier := notify.NewEventNotifier(bus, logger)

	hubServer, err := hub.NewServer(logger, dbConn, bus, presenceStore, membershipGate, resolver, statsUpdater, cfg.AllowedOrigins)
	if err != nil {
		logger.Fatal("new hub server:", err)
	}

	srv := api.NewHubChatApp(mux, logger, hubServer, dbConn, notifier, resolver, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

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

	logger.Println("shutting down hub server...")
	if err := hubServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("hub server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
