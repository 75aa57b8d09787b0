package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nexusgeo/tablewatch/internal/alert"
	"github.com/nexusgeo/tablewatch/internal/app"
	"github.com/nexusgeo/tablewatch/internal/capture"
	"github.com/nexusgeo/tablewatch/internal/config"
	"github.com/nexusgeo/tablewatch/internal/detector"
	"github.com/nexusgeo/tablewatch/internal/gesture"
	"github.com/nexusgeo/tablewatch/internal/hook"
	"github.com/nexusgeo/tablewatch/internal/server"
	"github.com/nexusgeo/tablewatch/internal/store"
	"github.com/nexusgeo/tablewatch/internal/zone"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Tablewatch - Restaurant Service Alerts")

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	a := app.New(app.Config{
		Store:  st,
		Camera: capture.NewCamera(cfg.Camera.Source),
		DetectorConfig: detector.Config{
			Script:        cfg.Detector.Script,
			Python:        cfg.Detector.Python,
			MinConfidence: cfg.Detector.MinConfidence,
		},
		Sender: newSender(cfg.Alert),
		Gesture: gesture.Config{
			Debounce: cfg.DebounceSettings(),
			Cooldown: cfg.Alert.Cooldown,
		},
		Gate: capture.GateConfig{
			IdleFPS:     cfg.Camera.IdleFPS,
			ActiveFPS:   cfg.Camera.ActiveFPS,
			IdleTimeout: cfg.Motion.IdleTimeout,
		},
		MotionThresh: cfg.Motion.Threshold,
		DefaultTable: cfg.Zones.DefaultTable,
		Zones:        zonesFromConfig(cfg.Zones.Tables),
		Retention:    cfg.Alert.Retention,
	})

	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	webDir := findWebDir()
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		Pipeline:  a,
	}).HTTPServer(cfg.HTTP.Addr)

	serveErr := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s\n", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("Received %s, shutting down", s)
	case <-a.Done():
		log.Println("Pipeline finished, shutting down")
	case err := <-serveErr:
		log.Printf("Server failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	a.Stop()
}

// newSender always logs alerts, posts them to the backend when an endpoint
// is configured and runs any hooks found in the hooks directory.
func newSender(cfg config.AlertConfig) alert.Sender {
	senders := alert.MultiSender{alert.NewLogSender(nil)}

	if cfg.Endpoint != "" {
		log.Printf("Posting alerts to %s", cfg.Endpoint)
		senders = append(senders, alert.NewHTTPSender(cfg.Endpoint, nil, cfg.Timeout))
	}

	hooks := hook.NewManager(cfg.HooksDir)
	if err := hooks.Discover(); err != nil {
		log.Printf("Failed to discover hooks in %s: %v", cfg.HooksDir, err)
	} else if n := len(hooks.List()); n > 0 {
		log.Printf("Loaded %d alert hooks from %s", n, cfg.HooksDir)
		senders = append(senders, hook.NewSender(hooks, hook.NewExecutor(cfg.Timeout)))
	}

	if len(senders) == 1 {
		return senders[0]
	}
	return senders
}

func zonesFromConfig(tables []config.ZoneConfig) []zone.Zone {
	zones := make([]zone.Zone, 0, len(tables))
	for _, t := range tables {
		zones = append(zones, zone.Zone{
			TableID: t.TableID,
			Name:    t.Name,
			Polygon: zone.PolygonFromPairs(t.Polygon),
		})
	}
	return zones
}

// findWebDir returns the first web directory found next to the working
// directory or under ~/.tablewatch, or "" when there is none.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	dir := filepath.Join(home, ".tablewatch", "web")
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}
