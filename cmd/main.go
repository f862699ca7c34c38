package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hsapsbch-blip/betapdoc/adapters"
	"github.com/hsapsbch-blip/betapdoc/adapters/llm"
	mongoadapter "github.com/hsapsbch-blip/betapdoc/adapters/mongo"
	"github.com/hsapsbch-blip/betapdoc/adapters/stt"
	"github.com/hsapsbch-blip/betapdoc/adapters/tts"
	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
	"github.com/hsapsbch-blip/betapdoc/internal/api"
	"github.com/hsapsbch-blip/betapdoc/internal/auth"
	"github.com/hsapsbch-blip/betapdoc/internal/config"
	"github.com/hsapsbch-blip/betapdoc/internal/transcription"
	"github.com/hsapsbch-blip/betapdoc/internal/websocket"
	"github.com/hsapsbch-blip/betapdoc/usecase"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		})
		if err != nil {
			logger.Warn("Sentry init failed", zap.Error(err))
		} else {
			logger.Info("Sentry initialized", zap.String("environment", cfg.Environment))
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	attempts, closeStore, err := newPracticeRepository(ctx, cfg.Storage, logger)
	if err != nil {
		fail(logger, "Failed to initialize storage", err)
	}
	defer closeStore()

	// Initialize adapters
	tutor, err := newTutor(ctx, cfg, logger)
	if err != nil {
		fail(logger, "Failed to initialize reading tutor", err)
	}
	speech, err := newTextToSpeech(ctx, cfg, logger)
	if err != nil {
		fail(logger, "Failed to initialize text to speech", err)
	}
	transcriber, err := newTranscriber(ctx, cfg, logger)
	if err != nil {
		fail(logger, "Failed to initialize transcriber", err)
	}

	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, cfg.Auth.AccessCode)
	if err != nil {
		fail(logger, "Failed to initialize token issuer", err)
	}

	// Initialize usecase services
	manager := transcription.NewManager(transcriber, transcription.Config{
		Audio: repositories.AudioConfig{
			SampleRate: cfg.Transcription.SampleRate,
			Encoding:   transcription.DefaultEncoding,
			Language:   cfg.Transcription.Language,
		},
		FinalizeTimeout:    cfg.Transcription.FinalizeTimeout,
		MaxSessionDuration: cfg.Transcription.MaxSessionDuration,
	}, logger)
	practices := usecase.NewPracticeService(tutor, speech, manager, attempts, logger)

	retention := usecase.NewRetentionService(attempts, cfg.Storage.AttemptRetention, logger)
	retention.Start()
	defer retention.Stop()

	hub := websocket.NewHub(practices, websocket.HubConfig{
		PermissionTimeout: cfg.Transcription.PermissionTimeout,
		WaitForPlayback:   true,
	}, logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, hub, issuer, practices, logger)

	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Server.Port),
		zap.String("sttProvider", cfg.Transcription.Provider),
		zap.String("ttsProvider", cfg.Speech.Provider),
		zap.String("tutorProvider", cfg.Gemini.TutorProvider))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Transcription session did not settle before shutdown", zap.Error(err))
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zapConfig := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	return zapConfig.Build()
}

func fail(logger *zap.Logger, msg string, err error) {
	sentry.CaptureException(err)
	sentry.Flush(2 * time.Second)
	logger.Fatal(msg, zap.Error(err))
}

func newPracticeRepository(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (repositories.PracticeRepository, func(), error) {
	if cfg.MongoURI == "" {
		logger.Info("MONGODB_URI not set, keeping practice history in memory")
		return adapters.NewMemoryPracticeRepository(), func() {}, nil
	}

	client, err := mongoadapter.NewClient(ctx, mongoadapter.Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	repo := mongoadapter.NewPracticeRepository(client.Database, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		client.Close(context.Background())
		return nil, nil, err
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Close(ctx)
	}
	return repo, closeFn, nil
}

func newTutor(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.ReadingTutor, error) {
	if cfg.Gemini.TutorProvider == config.ProviderMock {
		logger.Info("Using mock reading tutor")
		return llm.NewMockTutor(), nil
	}
	return llm.NewGeminiTutor(ctx, llm.GeminiConfig{
		APIKey: cfg.Gemini.APIKey,
		Model:  cfg.Gemini.TextModel,
	}, logger)
}

func newTextToSpeech(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch cfg.Speech.Provider {
	case config.ProviderMock:
		logger.Info("Using mock text to speech")
		return tts.NewMockTTS(), nil
	case config.ProviderElevenLabs:
		return tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:  cfg.Speech.ElevenLabsAPIKey,
			VoiceID: cfg.Speech.ElevenLabsVoiceID,
		}, logger)
	default:
		return tts.NewGeminiTTS(ctx, tts.GeminiTTSConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.TTSModel,
			Voice:  cfg.Gemini.Voice,
		}, logger)
	}
}

func newTranscriber(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.RealtimeTranscriber, error) {
	switch cfg.Transcription.Provider {
	case config.ProviderMock:
		logger.Info("Using mock transcriber")
		return stt.NewMockTranscriber(logger), nil
	case config.ProviderGoogle:
		return stt.NewGoogleSpeechTranscriber(logger), nil
	default:
		return stt.NewGeminiLiveTranscriber(ctx, stt.GeminiLiveConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.LiveModel,
		}, logger)
	}
}
