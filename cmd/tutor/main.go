// Command tutor runs a voice tutoring conversation on the local microphone
// and speaker.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/voice-tutor/pkg/audio"
	"github.com/lokutor-ai/voice-tutor/pkg/cache"
	"github.com/lokutor-ai/voice-tutor/pkg/config"
	"github.com/lokutor-ai/voice-tutor/pkg/observe"
	"github.com/lokutor-ai/voice-tutor/pkg/orchestrator"
	"github.com/lokutor-ai/voice-tutor/pkg/providers/engine"
	"github.com/lokutor-ai/voice-tutor/pkg/providers/tts"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tutor: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := &config.Config{}
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if err := config.LoadEnv(cfg); err != nil {
		return err
	}
	if cfg.LokutorAPIKey == "" {
		return fmt.Errorf("%s must be set", config.EnvLokutorAPIKey)
	}
	if cfg.Engine.URL == "" {
		return fmt.Errorf("engine.url or %s must be set", config.EnvEngineURL)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel.Slog()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oc, err := cfg.Orchestrator()
	if err != nil {
		return err
	}

	// Metrics
	mp, shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voice-tutor", ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer shutdownMetrics(context.Background())
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// Audio
	store, err := cache.New(cfg.Audio.CacheDir)
	if err != nil {
		return err
	}
	device, err := audio.NewMalgoDevice()
	if err != nil {
		return err
	}
	defer device.Close()

	sampleRate := cfg.Audio.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	mgr := audio.NewManager(device, store,
		audio.WithLogger(logger.With("component", "audio")),
		audio.WithFormat(audio.Format{SampleRate: sampleRate, Channels: 1}),
	)

	speaker := tts.NewLokutorSpeaker(cfg.LokutorAPIKey, mgr, tts.WithLogger(logger.With("component", "tts")))
	defer speaker.Close()

	dial := func() orchestrator.Channel {
		return engine.NewWebSocketChannel(cfg.Engine.URL,
			engine.WithLogger(logger.With("component", "engine")),
			engine.WithDialTimeout(oc.ConnectTimeout),
		)
	}

	conv, err := orchestrator.NewConversation(mgr, store, speaker, dial, oc,
		orchestrator.WithLogger(logger.With("component", "orchestrator")),
		orchestrator.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	fmt.Printf("Engine: %s | Language mode: %s | Sample rate: %dHz\n", cfg.Engine.URL, oc.LanguageMode, sampleRate)
	fmt.Println("Enter: start/stop speaking | /pause | /resume | /voice M1 | /quit | anything else is sent as text")

	if err := conv.Open(ctx); err != nil {
		conv.Close()
		return fmt.Errorf("connect: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		printEvents(conv.Events())
		return nil
	})

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	quit := make(chan struct{})
	go readCommands(ctx, conv, quit)

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-quit:
			stop()
		}
		fmt.Printf("\nShutting down...\n")
		return conv.Close()
	})

	return g.Wait()
}

// readCommands drives the conversation from stdin. It closes quit on /quit
// or end of input.
func readCommands(ctx context.Context, conv *orchestrator.Conversation, quit chan<- struct{}) {
	defer close(quit)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			if conv.Snapshot().Phase == orchestrator.PhaseListening {
				conv.Stop()
			} else {
				conv.AutoStart()
			}
		case line == "/quit":
			return
		case line == "/pause":
			conv.FocusLost()
		case line == "/resume":
			if err := conv.FocusGained(ctx); err != nil {
				fmt.Printf("\r\033[K[ERROR] %v\n", err)
			}
		case strings.HasPrefix(line, "/voice "):
			if err := conv.SetVoice(strings.TrimPrefix(line, "/voice ")); err != nil {
				fmt.Printf("\r\033[K[ERROR] %v\n", err)
			}
		default:
			if err := conv.SendText(line); err != nil {
				fmt.Printf("\r\033[K[ERROR] %v\n", err)
			}
		}
	}
}

func printEvents(events <-chan orchestrator.OrchestratorEvent) {
	for ev := range events {
		switch ev.Type {
		case orchestrator.PhaseChanged:
			ch := ev.Data.(orchestrator.PhaseChange)
			fmt.Printf("\r\033[K[%s] %s -> %s\n", strings.ToUpper(ch.To.String()), ch.From, ch.To)
		case orchestrator.TranscriptAppended:
			e := ev.Data.(orchestrator.TranscriptEntry)
			fmt.Printf("\r\033[K%s: %s\n", e.Speaker, e.Text)
		case orchestrator.NoSpeechDetected:
			fmt.Printf("\r\033[K[NO SPEECH] press Enter to try again\n")
		case orchestrator.WordProgressed:
			p := ev.Data.(orchestrator.WordProgress)
			fmt.Printf("\r\033[K[WORD %d/%d] %s\n", p.Index+1, p.Total, p.Text)
		case orchestrator.SessionError:
			fmt.Printf("\r\033[K[ERROR] %v (type /resume to reconnect)\n", ev.Data)
		case orchestrator.Level:
			fmt.Printf("\r[MIC %-40s] %6.1f dB", meter(ev.Data.(float64)), ev.Data.(float64))
		}
	}
}

// meter renders a level between -80 and 0 dB as a bar.
func meter(db float64) string {
	dots := int((db + 80) / 2)
	dots = max(0, min(dots, 40))
	return strings.Repeat("|", dots)
}
