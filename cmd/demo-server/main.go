package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"steamkit/api/httpapi"
	"steamkit/core"
	"steamkit/realtime"
	"steamkit/steam"
)

// demoSchema is the Spacewar test app with a handful of stats and achievements.
func demoSchema() core.Schema {
	maxGames := float64(1 << 20)
	return core.Schema{
		Game: core.NewGameID(480),
		Stats: []core.StatDef{
			{Name: "NumGames", Type: core.StatTypeInt, Max: &maxGames, IncrementOnly: true},
			{Name: "NumWins", Type: core.StatTypeInt, IncrementOnly: true},
			{Name: "MaxFeetTraveled", Type: core.StatTypeFloat},
			{Name: "AverageSpeed", Type: core.StatTypeAvgRate, Window: 3600},
		},
		Achievements: []core.AchievementDef{
			{Name: "ACH_WIN_ONE_GAME", DisplayName: "Winner", Description: "Win one game", Icon: 1, IconLocked: 2},
			{Name: "ACH_WIN_100_GAMES", DisplayName: "Champion", Description: "Win 100 games", Icon: 3, IconLocked: 4},
			{Name: "ACH_TRAVEL_FAR_SINGLE", DisplayName: "Orbiter", Description: "Travel far in one game", Icon: 5, IconLocked: 6},
		},
	}
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	hub := realtime.NewHub()
	svc, err := steam.New(
		steam.WithRealtime(hub),
		steam.WithLogger(logger),
		steam.WithSchemas(demoSchema()),
		steam.WithHandler(func(_ context.Context, msg core.CallbackMsg) {
			logger.Debug("callback", zap.Int32("user", int32(msg.User)), zap.String("callback", msg.Name()))
		}),
	)
	if err != nil {
		logger.Fatal("build service", zap.Error(err))
	}
	defer svc.Close()

	srv := &http.Server{
		Addr: ":8080",
		Handler: httpapi.NewMux(svc.Platform, hub, httpapi.Options{
			PathPrefix:      "/api",
			AllowCORSOrigin: "*",
			Logger:          logger.Named("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting demo server", zap.String("addr", srv.Addr), zap.Stringer("game", demoSchema().Game))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("demo server crashed", zap.Error(err))
		os.Exit(1)
	}
}
