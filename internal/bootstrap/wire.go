package bootstrap

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/U1000000000000/Lila/internal/api"
	"github.com/U1000000000000/Lila/internal/audio"
	"github.com/U1000000000000/Lila/internal/auth"
	"github.com/U1000000000000/Lila/internal/config"
	"github.com/U1000000000000/Lila/internal/metrics"
	"github.com/U1000000000000/Lila/internal/ports"
	"github.com/U1000000000000/Lila/internal/transport"
	"github.com/U1000000000000/Lila/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Orchestrator *usecase.Orchestrator
	Backend      *api.Client
	Auth         *auth.Store
	Registry     *prometheus.Registry
	Config       config.Config
}

// Build wires all runtime dependencies. ctx bounds the lifetime of
// background playback; events is the rendering surface the caller owns.
func Build(ctx context.Context, events ports.SessionEvents, log *zap.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	if log == nil {
		log = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store := auth.NewStore()
	if cfg.Server.Token != "" {
		store.SetToken(cfg.Server.Token)
	}

	backend := api.NewClient(cfg.Server.BaseURL, store.Token, log.Named("api"))

	provider := transport.NewProvider(
		transport.Config{
			ServerURL: cfg.Server.BaseURL,
			Token:     store.Token,
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.CaptureRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			OutputSampleRate: cfg.Audio.OutputSampleRate,
			ChunkInterval:    cfg.Session.ChunkInterval,
			SettleDelay:      cfg.Session.SettleDelay,
			MaxRetries:       cfg.Session.MaxRetries,
			BackoffBase:      cfg.Session.BackoffBase,
			BackoffCap:       cfg.Session.BackoffCap,
		},
		audio.NewMicCapture(cfg.Audio.RecorderCommand, log.Named("mic")),
		log.Named("transport"),
		m,
	)

	orchestrator := usecase.NewOrchestrator(
		ctx,
		provider,
		audio.NewFFPlaySink(cfg.Audio.PlayerCommand, log.Named("playback")),
		events,
		cfg.Playback.MinClipBytes,
		log.Named("session"),
		m,
	)

	return Services{
		Orchestrator: orchestrator,
		Backend:      backend,
		Auth:         store,
		Registry:     registry,
		Config:       cfg,
	}, nil
}
