package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/onbeat/onbeat-bot/internal/bot"
	"github.com/onbeat/onbeat-bot/internal/bridge"
	"github.com/onbeat/onbeat-bot/internal/config"
	"github.com/onbeat/onbeat-bot/internal/database"
	"github.com/onbeat/onbeat-bot/internal/health"
	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/music"
)

const version = "v1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	config.Load()

	log.Printf("Welcome to onbeat, version: %s", version)

	err := database.Init(config.DatabaseType, config.GetDatabaseConnectionString())
	if err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}
	defer database.Close()

	repo := database.NewRepository()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	nodeAggregator := health.NewAggregator(repo, "lavalink")
	nodeAggregator.Start(ctx, config.HealthFlushInterval)

	b, err := bot.New(repo)
	if err != nil {
		log.Fatalf("Error creating bot: %v", err)
	}
	b.Version = version

	node := lavalink.New(lavalink.NodeConfig{
		Name:     "main",
		Host:     config.LavalinkHost,
		Port:     config.LavalinkPort,
		Password: config.LavalinkPassword,
		Secure:   config.LavalinkSecure,
	}, nodeAggregator)

	manager := music.NewManager(node, b.Voice, repo, music.Options{
		SearchPrefix:     config.SearchPrefix,
		IdlePollInterval: config.IdlePollInterval,
	})

	hub := bridge.NewHub(nil)
	dispatcher := music.NewDispatcher(manager, repo, b, hub, repo)
	node.SetListener(dispatcher)
	nodeConnected := func() bool { return node.SessionID() != "" }
	b.NodeConnected = nodeConnected

	if err := b.Start(ctx, manager); err != nil {
		log.Fatalf("Error starting bot: %v", err)
	}

	go node.Run(ctx, b.Session.State.User.ID)

	if config.WebSocketAddr != "" {
		server := bridge.NewServer(hub, manager, bridge.Options{
			AllowedOrigins: config.WebSocketOrigins,
			RateLimit:      config.WebSocketRateLimit,
			RateBurst:      config.WebSocketRateBurst,
			Version:        version,
			NodeConnected:  nodeConnected,
		})
		go func() {
			if err := server.Run(ctx, config.WebSocketAddr); err != nil {
				log.Printf("[Bridge] Server stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down...")

	manager.TeardownAll("shutdown")
	dispatcher.Wait()
	b.Stop()
}
