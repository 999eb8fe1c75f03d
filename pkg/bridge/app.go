// Package bridge assembles the voice bridge: carrier ingress on one
// side, the realtime engine on the other, with per-call sessions in
// between.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-dialtone/internal/log"
	"github.com/teslashibe/go-dialtone/pkg/carrier"
	"github.com/teslashibe/go-dialtone/pkg/playback"
	"github.com/teslashibe/go-dialtone/pkg/realtime"
	"github.com/teslashibe/go-dialtone/pkg/session"
)

// App is the bridge service.
type App struct {
	cfg    Config
	logger *slog.Logger

	registry *session.Registry
	guard    *playback.Guard
	cache    *playback.Cache
	synth    playback.Synth
	classify session.Classifier
	control  *carrier.Controller
	webhook  *carrier.Webhook
	ingress  *carrier.Ingress
	script   *session.Script

	fiber *fiber.App
}

// New builds the service from configuration.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.L()
	script := cfg.Script
	if script == nil {
		script = session.DefaultScript()
	}

	guard := playback.NewGuard(script.Approved())
	guard.SetFallback(script.Repeat)

	synth, err := playback.NewHTTPSynth(cfg.OpenAIKey, cfg.TTSModel, cfg.TTSVoice, "", 0, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: session.NewRegistry(),
		guard:    guard,
		cache:    playback.NewCache(),
		synth:    synth,
		classify: session.NewHTTPClassifier(cfg.OpenAIKey, cfg.ClassifierModel, "", cfg.Tuning.ClassifyTimeout, logger),
		control:  carrier.NewController(cfg.TelnyxAPIKey, cfg.CallControlURL, logger),
		script:   script,
	}

	a.webhook, err = carrier.NewWebhook(cfg.TelnyxPublicKey, a.registry, a.control, logger)
	if err != nil {
		return nil, err
	}
	a.ingress = carrier.NewIngress(cfg.StreamToken, a.registry, a.newSession, logger)

	a.fiber = a.routes()
	return a, nil
}

func (a *App) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "dialtone",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Use(a.cfg.MediaPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(a.cfg.MediaPath, websocket.New(a.ingress.Handle))

	app.Post(a.cfg.WebhookPath, a.webhook.Handle)
	app.Post("/dial", a.handleDial)

	return app
}

// newSession wires one call: engine client, playback pipeline, and the
// session actor that owns them.
func (a *App) newSession(info carrier.StartInfo, link *carrier.Conn) (*session.Session, error) {
	engine := realtime.NewClient(realtime.Config{
		URL:          a.cfg.RealtimeURL,
		APIKey:       a.cfg.OpenAIKey,
		Model:        a.cfg.RealtimeModel,
		Instructions: Instructions,
		Encoding:     info.Encoding,
		Logger:       a.logger,
	})

	var sess *session.Session
	speaker := playback.New(playback.Config{
		Encoding:   info.Encoding,
		SampleRate: info.SampleRate,
		Synth:      a.synth,
		Cache:      a.cache,
		Guard:      a.guard,
		Sink:       link,
		OnFlushed:  func(mark string) { sess.PostPlaybackFlushed(mark) },
		Logger:     a.logger,
	})

	sess = session.New(session.Config{
		StreamID:      info.StreamID,
		CallControlID: info.CallControlID,
		From:          info.From,
		To:            info.To,
		Encoding:      info.Encoding,
		SampleRate:    info.SampleRate,
		Tuning:        a.cfg.Tuning,
		Script:        a.script,
	}, session.Deps{
		Engine:   engine,
		Link:     link,
		Speaker:  speaker,
		Classify: a.classify,
		Control:  a.control,
		Registry: a.registry,
		Logger:   a.logger,
	})

	engine.OnReady = sess.PostEngineReady
	engine.OnSpeechStarted = sess.PostSpeechStarted
	engine.OnSpeechStopped = sess.PostSpeechStopped
	engine.OnTranscript = sess.PostTranscript
	engine.OnResponseCreated = sess.PostResponseCreated
	engine.OnResponseDone = sess.PostResponseDone
	engine.OnResponseCanceled = sess.PostResponseCanceled
	engine.OnAudioDelta = sess.PostAudioDelta
	engine.OnAudioDone = sess.PostAudioDone
	engine.OnError = sess.PostEngineError
	engine.OnClosed = sess.PostEngineClosed

	// Connect off the ingress goroutine so the greeting is not held
	// behind the engine handshake.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := engine.Connect(ctx); err != nil {
			sess.PostEngineClosed(err)
		}
	}()

	return sess, nil
}

// handleDial places an outbound call whose media streams back to this
// bridge.
func (a *App) handleDial(c *fiber.Ctx) error {
	var req struct {
		To   string `json:"to"`
		From string `json:"from"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.To == "" || req.From == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "to and from are required"})
	}
	if a.cfg.PublicURL == "" || a.cfg.ConnectionID == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "outbound dialing not configured"})
	}

	streamURL := a.cfg.PublicURL + a.cfg.MediaPath
	if a.cfg.StreamToken != "" {
		streamURL += "?token=" + a.cfg.StreamToken
	}

	id, err := a.control.Dial(c.Context(), carrier.DialRequest{
		To:           req.To,
		From:         req.From,
		ConnectionID: a.cfg.ConnectionID,
		StreamURL:    streamURL,
		WebhookURL:   a.cfg.PublicURL + a.cfg.WebhookPath,
	})
	if err != nil {
		a.logger.Error("dial failed", "error", err, "to", req.To)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"call_control_id": id})
}

// Start runs the HTTP listener until Shutdown.
func (a *App) Start() error {
	a.logger.Info("bridge listening",
		"port", a.cfg.Port,
		"media_path", a.cfg.MediaPath,
		"webhook_path", a.cfg.WebhookPath)
	return a.fiber.Listen(":" + a.cfg.Port)
}

// Shutdown hangs up every active call and stops the listener.
func (a *App) Shutdown(ctx context.Context) error {
	sessions := a.registry.All()
	a.logger.Info("shutting down", "active_sessions", len(sessions))

	for _, s := range sessions {
		s.PostHangup()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("bridge: shutdown timed out with %d sessions live", a.registry.Len())
		}
	}
	return a.fiber.ShutdownWithContext(ctx)
}

// Registry exposes the session registry for inspection.
func (a *App) Registry() *session.Registry { return a.registry }
