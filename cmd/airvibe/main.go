// Command airvibe runs the AirVibe uplink service: it decodes uplinks from a
// serial console and The Things Stack, tracks waveform transfers, and
// forwards suggested downlinks.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/api"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/config"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/downlink"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/events"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ingest"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/monitoring"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/serialmux"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/timeutil"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ttn"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/version"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/waveform"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to JSON configuration file")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	serialPort  = flag.String("port", "", "Serial console port (overrides config)")
	fixture     = flag.String("fixture", "", "Replay uplink lines from this file instead of a serial port")
	revision    = flag.String("revision", "", "Wire revision: v2.1.2 or legacy-be (overrides config)")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const (
	replayInterval = 200 * time.Millisecond
	evictInterval  = time.Minute
)

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		explicit := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == "config" {
				explicit = true
			}
		})
		if explicit || !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = &config.Config{}
	}
	cfg.LoadFromEnv()

	if *listen != "" {
		cfg.Listen = listen
	}
	if *revision != "" {
		cfg.WireRevision = revision
	}
	if *serialPort != "" || *fixture != "" {
		if cfg.Serial == nil {
			cfg.Serial = &config.SerialConfig{}
		}
		if *serialPort != "" {
			cfg.Serial.Port = *serialPort
		}
		if *fixture != "" {
			cfg.Serial.Fixture = *fixture
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return cfg
}

func openSerial(cfg *config.Config) (serialmux.SerialMuxInterface, string) {
	sc := cfg.Serial
	if sc == nil || (sc.Port == "" && sc.Fixture == "") {
		return serialmux.NewDisabledSerialMux(), ""
	}
	device := sc.Device
	if device == "" {
		device = "console"
	}
	if sc.Fixture != "" {
		lines, err := serialmux.ReadReplayFile(sc.Fixture)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		return serialmux.NewReplaySerialMux(lines, replayInterval), device
	}
	m, err := serialmux.NewRealSerialMux(sc.Port, serialmux.PortOptions{BaudRate: sc.BaudRate})
	if err != nil {
		log.Fatalf("failed to open serial port: %v", err)
	}
	return m, device
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		log.SetFlags(0)
		log.Print(version.Get())
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			log.Print(p)
		}
		return
	}

	cfg := loadConfig()

	logger, err := monitoring.NewLogger(cfg.GetLogLevel(), cfg.GetLogFormat(), "airvibe")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)

	codecOpts := []codec.Option{codec.WithRevision(cfg.GetRevision())}
	clock := timeutil.RealClock{}
	store := waveform.NewStore(waveform.FoldOptions{Inference: cfg.GetInference(), Now: clock.Now})
	pipelineOpts := []ingest.Option{ingest.WithLogger(logger), ingest.WithCodecOptions(codecOpts...)}

	if rc := cfg.Redis; rc != nil && rc.Addr != "" {
		client := events.NewClient(rc.Addr, rc.Password, rc.DB)
		defer client.Close()
		pub := events.NewPublisher(client, cfg.GetStreamPrefix(), logger, codecOpts...)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := pub.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable, events will be retried per message", zap.Error(err))
		}
		cancel()
		pipelineOpts = append(pipelineOpts, ingest.WithSink(pub))
	}

	var bridge *ttn.Bridge
	if mc := cfg.MQTT; mc != nil && mc.Broker != "" {
		clientID := mc.ClientID
		if clientID == "" {
			clientID = "airvibe-" + mc.AppID
		}
		broker, err := ttn.Connect(ttn.ClientOptions{
			Broker:   mc.Broker,
			ClientID: clientID,
			Username: mc.Username,
			Password: mc.Password,
		})
		if err != nil {
			log.Fatalf("failed to connect to MQTT: %v", err)
		}
		bridge = ttn.NewBridge(broker, mc.AppID, cfg.GetMQTTQoS(), logger, codecOpts...)
		defer bridge.Close()
		if mc.PublishDownlinks {
			pipelineOpts = append(pipelineOpts, ingest.WithSink(bridge))
		}
	}

	if dc := cfg.Downlink; dc != nil && dc.BaseURL != "" {
		pusher := downlink.NewClient(downlink.Options{
			BaseURL:   dc.BaseURL,
			AppID:     dc.AppID,
			WebhookID: dc.WebhookID,
			APIKey:    dc.APIKey,
			Timeout:   cfg.GetDownlinkTimeout(),
			Retries:   2,
		}, logger, codecOpts...)
		pipelineOpts = append(pipelineOpts, ingest.WithSink(pusher))
	}

	pipeline := ingest.New(store, pipelineOpts...)

	m, consoleDevice := openSerial(cfg)
	defer m.Close()

	// Create a wait group for the HTTP server, serial monitor, and forwarding routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if bridge != nil {
		err := bridge.Start(ctx, func(ctx context.Context, u ingest.Uplink) error {
			_, err := pipeline.Handle(ctx, u)
			return err
		})
		if err != nil {
			log.Fatalf("failed to start TTN bridge: %v", err)
		}
	}

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// forward console lines into the pipeline
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := serialmux.Forward(ctx, m, func(ctx context.Context, line string) error {
			_, err := pipeline.HandleLine(ctx, consoleDevice, line)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serial forwarding stopped: %v", err)
		}
		log.Print("forward routine terminated")
	}()

	// drop transactions that stopped receiving segments
	wg.Add(1)
	go func() {
		defer wg.Done()
		idle := cfg.GetIdleTimeout()
		store.RunEviction(ctx, clock, evictInterval, idle, func(n int) {
			logger.Info("evicted idle transactions", zap.Int("count", n), zap.Duration("idle", idle))
		})
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		m.AttachAdminRoutes(mux)

		apiMux := api.NewServer(m, pipeline).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("listening", zap.String("addr", server.Addr), zap.String("revision", cfg.GetRevision().String()))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
