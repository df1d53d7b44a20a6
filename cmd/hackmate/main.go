package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackmate/realtime/internal/client"
	"github.com/hackmate/realtime/internal/httpapi"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	wsURL := getenv("HACKMATE_WS_URL", "ws://localhost:4000/ws")
	apiURL := getenv("HACKMATE_API_URL", "http://localhost:4000")
	token := os.Getenv("HACKMATE_TOKEN")
	userID := os.Getenv("HACKMATE_USER_ID")
	hackathonID := os.Getenv("HACKMATE_HACKATHON_ID")
	if token == "" || userID == "" {
		log.Fatal("HACKMATE_TOKEN and HACKMATE_USER_ID are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One client instance for the whole process, injected where needed.
	c := client.New(ctx, client.Config{SocketURL: wsURL, UserID: userID}, log)
	defer c.Logout()

	if hackathonID != "" {
		api := httpapi.NewClient(apiURL, token, nil)
		if err := c.Preseed(ctx, api, hackathonID); err != nil {
			log.Warn("initial load failed, continuing with live data only", zap.Error(err))
		}
	}

	c.Connect(token)
	if hackathonID != "" {
		c.SubscribeToHackathon(hackathonID)
	}

	snaps := c.Subscribe("main")
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			log.Info("state changed",
				zap.Int("version", snap.Version),
				zap.String("conn", string(snap.Conn)),
				zap.Int("teams", len(snap.Teams)),
				zap.Int("notifications", len(snap.Notifications)))
			if snap.FatalErr != "" {
				log.Error("session is dead", zap.String("reason", snap.FatalErr))
				return
			}
		}
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
