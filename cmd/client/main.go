package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Mesh/internal/adapters/http"
	"github.com/dkeye/Mesh/internal/adapters/rtc"
	sigws "github.com/dkeye/Mesh/internal/adapters/signal"
	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config loading can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadArgs(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	user := domain.UserID(cfg.User)
	if user == "" {
		if user, err = domain.NewUserID(cfg.Name); err != nil {
			log.Fatal().Err(err).Str("name", cfg.Name).Msg("cannot build user id")
		}
	}

	api, err := rtc.NewAPI(rtc.NewLoggerFactory())
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}

	sinks := media.NewSinkManager()
	ch := sigws.NewWSChannel(cfg.SignalURL, sigws.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		WriteTimeout: cfg.WriteTimeout,
		SendBuffer:   cfg.SendBuffer,
	})
	acquirer := &media.FileAcquirer{
		VideoPath:       cfg.Capture.VideoPath,
		AudioPath:       cfg.Capture.AudioPath,
		ScreenPath:      cfg.Capture.ScreenPath,
		ScreenAudioPath: cfg.Capture.ScreenAudioPath,
		StreamID:        string(user),
	}

	mgr := session.NewManager(session.Deps{
		Channel:       ch,
		NewConnection: rtc.Factory(api, rtc.DefaultWebRTCConfig(cfg.ICEServers)),
		Acquirer:      acquirer,
		OnRemoteTrack: func(trackCtx context.Context, peer domain.UserID, track core.RemoteTrack) {
			src, ok := track.(media.RTPReader)
			if !ok {
				return
			}
			sinks.Start(trackCtx, peer, track.ID(), track.Kind().String(), src)
		},
	})

	if err := mgr.Join(ctx, domain.RoomID(cfg.Room), user); err != nil {
		log.Fatal().Err(err).Str("room", cfg.Room).Str("user", string(user)).Msg("join failed")
	}

	r := router.SetupRouter(cfg, mgr, sinks)
	srv := &http.Server{
		Addr:    cfg.ControlAddr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", cfg.ControlAddr).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case <-mgr.Done():
		if err := mgr.Err(); err != nil {
			log.Error().Err(err).Msg("session ended")
		} else {
			log.Info().Msg("session left")
		}
	}
	mgr.Leave()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
