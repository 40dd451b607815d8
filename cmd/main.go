// Command phone-assistant answers the school's phone line when no advisor
// is available.
//
// Configure the Twilio number's voice webhook to http(s)://host/twiml and
// set TWILIO_STREAM_URL to the public wss:// address of /media.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/agents"
	"github.com/festnoze/squad-ai-sub000/pkg/asr"
	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"github.com/festnoze/squad-ai-sub000/pkg/config"
	"github.com/festnoze/squad-ai-sub000/pkg/crm"
	"github.com/festnoze/squad-ai-sub000/pkg/leadapi"
	"github.com/festnoze/squad-ai-sub000/pkg/llm"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/orchestrator"
	"github.com/festnoze/squad-ai-sub000/pkg/outgoing"
	"github.com/festnoze/squad-ai-sub000/pkg/rag"
	"github.com/festnoze/squad-ai-sub000/pkg/router"
	"github.com/festnoze/squad-ai-sub000/pkg/server"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"github.com/festnoze/squad-ai-sub000/pkg/textseg"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"github.com/festnoze/squad-ai-sub000/pkg/tts"
	"github.com/festnoze/squad-ai-sub000/pkg/turn"
	"github.com/festnoze/squad-ai-sub000/pkg/vad"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("phone assistant failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("=== Phone Assistant ===", zap.String("environment", cfg.Environment))

	traceCfg := trace.DefaultConfig()
	traceCfg.ExporterType = cfg.TraceExporter
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.Environment = cfg.Environment
	traceCfg.Logger = logger
	if err := trace.Initialize(ctx, traceCfg); err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = trace.Shutdown(shutdownCtx)
	}()

	latency := metrics.NewTracker(metrics.Config{Thresholds: metrics.ThresholdsFromEnv(os.LookupEnv)}, logger)
	var serverOpts []server.Option
	var observer orchestrator.CallObserver
	if cfg.PrometheusEnabled {
		reporter := metrics.NewPrometheusReporter("phone_assistant")
		latency.AddReporter(reporter)
		observer = reporter
		serverOpts = append(serverOpts, server.WithMetrics(reporter.Handler()))
	}
	defer func() {
		for _, line := range latency.SummaryLines() {
			logger.Info("latency summary", zap.String("stats", line))
		}
	}()

	registry, closeRegistry, err := newRegistry(ctx, cfg.RedisURL, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()
	serverOpts = append(serverOpts, server.WithRegistry(registry))

	model, err := llm.FromConfig(ctx, cfg.LLM, latency)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	sttProvider, err := asr.FromConfig(cfg.STT, cfg.LLM.OpenAIBaseURL)
	if err != nil {
		return fmt.Errorf("stt: %w", err)
	}
	gatewayCfg := asr.DefaultGatewayConfig()
	gatewayCfg.SpeechThreshold = cfg.VAD.SpeechThreshold
	gatewayCfg.Recognize.Language = cfg.STT.Language
	gateway := asr.NewGateway(sttProvider, gatewayCfg, latency, logger)
	defer gateway.Close()

	synth, err := tts.FromConfig(ctx, cfg.TTS, cfg.LLM.OpenAIBaseURL)
	if err != nil {
		return fmt.Errorf("tts: %w", err)
	}

	ragClient, err := rag.NewClient(rag.Config{BaseURL: cfg.RAG.BaseURL, StreamTimeout: cfg.RAG.StreamTimeout}, latency, logger)
	if err != nil {
		return fmt.Errorf("rag: %w", err)
	}

	crmCfg, err := crm.FromConfig(cfg.CRM)
	if err != nil {
		return fmt.Errorf("crm: %w", err)
	}
	crmClient, err := crm.NewClient(crmCfg, latency, logger)
	if err != nil {
		return fmt.Errorf("crm: %w", err)
	}

	leads := leadapi.NewClient(cfg.Lead, nil, latency, logger)

	rt, err := router.New(model, router.Config{}, logger)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	holdMusic, err := audio.LoadHoldMusic(cfg.Audio.HoldMusicFile)
	if err != nil {
		logger.Warn("hold music unavailable, using the default loop", zap.Error(err))
		holdMusic = audio.DefaultHoldLoop()
	}

	deps := orchestrator.Deps{
		Transcriber:   gateway,
		Router:        rt,
		Conversations: ragClient,
		Synthesizer:   synth,
		Directory:     crmClient,
		Registry:      registry,
		Latency:       latency,
		Observer:      observer,
		Agents: []agents.Agent{
			agents.NewCalendarAgent(model, crmClient, agents.CalendarConfig{DefaultOwnerID: cfg.CRM.DefaultOwnerID}, logger),
			agents.NewLeadAgent(model, leads, nil, logger),
			agents.NewCourseAgent(ragClient, textseg.Config{}, logger),
			agents.OtherAgent{},
		},
	}
	if path := cfg.VAD.ModelPath; path != "" {
		deps.NewFrameClassifier = func() (vad.FrameClassifier, error) {
			return vad.NewSileroClassifier(vad.SileroConfig{ModelPath: path})
		}
	}

	orch, err := orchestrator.New(deps, orchestrator.Config{
		VAD: vad.Config{
			SpeechThreshold:    cfg.VAD.SpeechThreshold,
			MinAudioBytes:      cfg.VAD.MinAudioBytes,
			MaxAudioBytes:      cfg.VAD.MaxAudioBytes,
			RequiredSilence:    time.Duration(cfg.VAD.RequiredSilenceMs) * time.Millisecond,
			PreRoll:            time.Duration(cfg.VAD.PreRollMs) * time.Millisecond,
			BargeInSensitivity: cfg.VAD.BargeInSensitivity,
			BargeInTrigger:     cfg.VAD.BargeInTrigger,
		},
		Audio: outgoing.Config{
			SampleRate:    audio.TelephonySampleRate,
			ChunkDuration: cfg.Audio.ChunkDuration,
			Interval:      cfg.Audio.SendInterval,
			QueueSize:     cfg.Audio.QueueSize,
			Language:      cfg.TTS.GoogleLanguage,
		},
		Turn:      turn.DefaultConfig(),
		HoldMusic: holdMusic,
	}, logger)
	if err != nil {
		return err
	}

	srv := server.NewTwilioMediaServer(server.TwilioServerConfig{
		Address:   ":" + cfg.Port,
		StreamURL: cfg.StreamURL,
	}, orch, logger, serverOpts...)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("ready",
		zap.String("twiml_webhook", "http://<host>:"+cfg.Port+"/twiml"),
		zap.String("stream_url", cfg.StreamURL),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("stt", sttProvider.Name()),
		zap.String("tts", synth.Name()))

	<-ctx.Done()
	logger.Info("shutting down", zap.Int("active_calls", orch.Active()))
	return srv.Stop()
}

// newRegistry shares caller numbers through Redis when REDIS_URL is set.
func newRegistry(ctx context.Context, url string, logger *zap.Logger) (session.Registry, func(), error) {
	if url == "" {
		return session.NewMemoryRegistry(), func() {}, nil
	}
	reg, err := session.NewRedisRegistry(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("redis registry: %w", err)
	}
	logger.Info("caller registry on redis")
	return reg, func() { _ = reg.Close() }, nil
}
