package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pairgo/backend/internal/api/handler"
	"pairgo/backend/internal/config"
	"pairgo/backend/internal/localization"
	"pairgo/backend/internal/matchmaker"
	"pairgo/backend/internal/negotiator"
	"pairgo/backend/internal/presence"
	"pairgo/backend/internal/relay"
	"pairgo/backend/internal/report"
	"pairgo/backend/internal/rtc"
	"pairgo/backend/internal/session"
	"pairgo/backend/internal/storage"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := config.Load()

	if cfg.JWTSecret == config.DefaultJWTSecret {
		log.Warn().Msg("running with the default JWT secret; set JWT_SECRET in production")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}
	store := storage.NewService(db)

	var bus relay.Bus
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		bus = relay.NewRedisBus(store, rdb, log)
		log.Info().Str("addr", cfg.RedisAddr).Msg("relay on redis")
	} else {
		bus = relay.NewMemoryBus(store, log)
		log.Info().Msg("relay in process")
	}

	registry := presence.NewRegistry(store, log)
	matcher := matchmaker.New(store, log, matchmaker.Options{
		RetryLimit:     cfg.MatchRetryLimit,
		StaleAfter:     cfg.StaleAfter,
		CandidateLimit: 3,
	})

	localizer := localization.NewDefault()
	if cfg.LocalePath != "" {
		if err := localizer.LoadDir(cfg.LocalePath); err != nil {
			log.Warn().Err(err).Str("path", cfg.LocalePath).Msg("extra locales not loaded")
		}
	}

	var notifier report.Notifier
	if cfg.TelegramToken != "" && cfg.ModerationChatID != 0 {
		tg, err := report.NewTelegramNotifier(cfg.TelegramToken, cfg.ModerationChatID, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect telegram")
		}
		notifier = tg
		log.Info().Int64("chat", cfg.ModerationChatID).Msg("moderation notifications enabled")
	}
	reports := report.NewService(store, notifier, log)

	media := rtc.NewSampleSource(log)
	newTransport := func(m *rtc.MediaHandle, onRemoteMedia func()) (negotiator.PeerTransport, error) {
		return rtc.NewTransport(rtc.TransportConfig{
			ICEURLs:       cfg.ICEServers,
			Media:         m,
			OnRemoteTrack: onRemoteMedia,
			Logger:        log,
		})
	}

	sessions := func(clientID, lang string) *session.Session {
		return session.New(session.Config{
			ClientID:       clientID,
			Store:          store,
			Bus:            bus,
			Presence:       registry,
			Matchmaker:     matcher,
			Media:          media,
			NewTransport:   newTransport,
			Reports:        reports,
			Localizer:      localizer,
			Lang:           lang,
			Logger:         log,
			SearchAttempts: cfg.SearchAttempts,
			SearchInterval: cfg.SearchInterval,
		})
	}

	h := handler.New(handler.Config{
		Auth:       handler.NewAuth(cfg.JWTSecret, cfg.TokenTTL),
		Presence:   registry,
		Sessions:   sessions,
		ICEServers: cfg.ICEServers,
		Logger:     log,
	})

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: h.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}
