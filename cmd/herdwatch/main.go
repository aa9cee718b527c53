package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"herdwatch/internal/config"
	"herdwatch/internal/logger"
	"herdwatch/internal/metrics"
	"herdwatch/internal/models"
	"herdwatch/internal/mqtt"
	"herdwatch/internal/supervisor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", config.PathFromEnv(), "Path to configuration file")
	flag.Parse()

	log := logger.Tagged("supervisor")

	// 1. Load Configuration
	cfg, err := config.LoadOrCreate(*configPath)
	if err != nil {
		logger.Fatalf("Error loading config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)
	log.Infof("Loaded config from %s", *configPath)

	// Workers re-read the same file; they only receive the camera id.
	if abs, err := filepath.Abs(*configPath); err == nil {
		os.Setenv(config.PathEnv, abs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []supervisor.Option{
		supervisor.WithPolicy(cfg.Supervisor),
		supervisor.WithCameraNames(cameraNames(cfg)),
		supervisor.WithAlerter(alerter(cfg)),
	}

	// 2. Metrics
	registry := prometheus.NewRegistry()
	m, err := metrics.NewSupervisorMetrics(registry)
	if err != nil {
		logger.Fatalf("Failed to register metrics: %v", err)
	}
	opts = append(opts, supervisor.WithRecorder(m))
	var srv *http.Server
	if cfg.Supervisor.MetricsAddr != "" {
		srv = serveMetrics(cfg.Supervisor.MetricsAddr, registry)
	}

	// 3. Status publishing
	var mqttClient *mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient = mqtt.NewClient(cfg.MQTT)
		if err := mqttClient.Connect(); err != nil {
			log.Warnf("Failed to connect to MQTT, remote control disabled: %v", err)
			mqttClient = nil
		} else {
			defer mqttClient.Disconnect()
		}
	}
	if mqttClient != nil && cfg.MQTT.StatusTopic != "" {
		queue := mqtt.NewStatusQueue(mqttClient, 0)
		go queue.Run(ctx)
		opts = append(opts, supervisor.WithStatusSink(queue))
	}

	// 4. Start the enabled cameras
	sup := supervisor.New(supervisor.ExecLauncher{Path: cfg.Supervisor.WorkerPath}, opts...)
	cameras := config.EnabledCameras(cfg)
	if len(cameras) == 0 {
		log.Warnf("No enabled cameras in %s", *configPath)
	}
	for _, cam := range cameras {
		sup.Start(cam.ID)
	}

	// 5. Remote start/stop
	if mqttClient != nil && cfg.MQTT.CommandTopic != "" {
		err := mqttClient.SubscribeCommands(func(cmd models.CameraCommand) {
			handleCommand(cfg, sup, cmd)
		})
		if err != nil {
			log.Warnf("Failed to subscribe to %s: %v", cfg.MQTT.CommandTopic, err)
		}
	}

	go sup.Run(ctx)

	// 6. Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Infof("Received signal %v, stopping all cameras...", sig)
	cancel()
	sup.StopAll()

	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}
	log.Infof("All cameras stopped")
}

func cameraNames(cfg *models.Config) map[string]string {
	names := make(map[string]string, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		names[cam.ID] = cam.Name
	}
	return names
}

func alerter(cfg *models.Config) supervisor.Alerter {
	alerters := supervisor.MultiAlerter{supervisor.NewTelegramAlerter(cfg)}
	if len(cfg.Alerts.URLs) > 0 {
		sa, err := supervisor.NewShoutrrrAlerter(cfg.Alerts.URLs)
		if err != nil {
			logger.Warnf("Ignoring alert URLs: %v", err)
		} else {
			alerters = append(alerters, sa)
		}
	}
	return alerters
}

func handleCommand(cfg *models.Config, sup *supervisor.Supervisor, cmd models.CameraCommand) {
	log := logger.Tagged("supervisor")
	if _, err := config.CameraByID(cfg, cmd.Camera); err != nil {
		log.Warnf("Ignoring %q command: %v", cmd.Action, err)
		return
	}
	switch cmd.Action {
	case "start":
		log.Infof("Remote start for %s", cmd.Camera)
		sup.Start(cmd.Camera)
	case "stop":
		log.Infof("Remote stop for %s", cmd.Camera)
		go sup.Stop(cmd.Camera)
	default:
		log.Warnf("Unknown action %q for %s", cmd.Action, cmd.Camera)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	logger.Infof("Serving metrics on %s/metrics", addr)
	return srv
}
