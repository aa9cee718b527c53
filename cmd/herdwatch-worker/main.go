package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"herdwatch/internal/archive"
	"herdwatch/internal/command"
	"herdwatch/internal/config"
	"herdwatch/internal/detector"
	"herdwatch/internal/engine"
	"herdwatch/internal/imaging"
	"herdwatch/internal/logger"
	"herdwatch/internal/models"
	"herdwatch/internal/mqtt"
	"herdwatch/internal/notify"
	"herdwatch/internal/source"
	"herdwatch/internal/telegram"
	"herdwatch/internal/worker"
)

func main() {
	configPath := flag.String("config", config.PathFromEnv(), "Path to configuration file")
	ffmpegPath := flag.String("ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: herdwatch-worker [flags] <camera-id>")
		os.Exit(2)
	}
	cameraID := flag.Arg(0)

	// The supervisor scans stdout for heartbeats and forwards everything else.
	logger.SetOutput(os.Stdout)
	log := logger.Tagged(cameraID)

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	ws, err := config.Resolve(cfg, cameraID)
	if err != nil {
		log.Fatalf("Cannot resolve camera settings: %v", err)
	}
	log.Infof("Starting %s (%s mode)", ws.Camera.Name, ws.Camera.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Provision the model
	modelPath, err := detector.EnsureModel(ctx, nil, ws.Paths.WeightsDir, ws.Mode.ModelPath, ws.Mode.ModelURL)
	if err != nil {
		log.Fatalf("Model not available: %v", err)
	}
	det := detector.NewClient(ws.Mode.DetectorURL, modelPath, ws.Mode.ModelConfidence,
		detector.WithClasses(ws.Mode.Classes))

	// 3. Messaging
	var recipients []string
	var tg *telegram.Client
	if ws.BotToken == "" {
		log.Warnf("No enabled Telegram bot for this camera, notifications are disabled")
	} else {
		tg = telegram.NewClient(ws.BotToken, telegram.WithBaseURL(ws.TelegramAPI))
		recipients = verifyTelegram(ctx, tg, ws)
	}
	var sender notify.Sender = tg
	if tg == nil {
		sender = discardSender{}
	}
	dispatcher := notify.NewDispatcher(sender, recipients)

	// 4. Frame storage and event pipeline
	store, err := imaging.NewStore(filepath.Join(ws.Paths.DataDir, ws.Camera.ID))
	if err != nil {
		log.Fatalf("%v", err)
	}
	annotator := imaging.NewAnnotator()

	var opts []worker.Option
	publisher, background, disconnect := eventPublisher(ws)
	collectorOpts := []engine.CollectorOption{engine.WithAnnotator(annotator)}
	if publisher != nil {
		collectorOpts = append(collectorOpts, engine.WithEventSink(publisher))
		opts = append(opts, worker.WithBackground(publisher.Run))
	}
	for _, fn := range background {
		opts = append(opts, worker.WithBackground(fn))
	}
	collector := engine.NewCollector(engine.SettingsFrom(ws), store, dispatcher, collectorOpts...)

	opts = append(opts, worker.WithAnnotator(annotator))
	if mc := ws.Mode.ManualCapture; mc.Enabled && tg != nil {
		window := command.NewManualWindow(mc.Duration)
		listener := command.NewListener(tg, window,
			command.WithReplier(dispatcher), command.WithPollInterval(mc.PollInterval))
		opts = append(opts, worker.WithManualCapture(listener, window))
	}

	src := source.New(ws.Camera.StreamURL, source.WithFFmpegPath(*ffmpegPath))
	w := worker.New(worker.ConfigFrom(ws), src, det, collector, dispatcher, store, opts...)

	// 5. Run until signalled
	err = w.Run(ctx)
	disconnect()
	if err != nil {
		log.Errorf("Worker exited: %v", err)
		os.Exit(1)
	}
	log.Infof("Worker stopped")
}

func verifyTelegram(ctx context.Context, tg *telegram.Client, ws *models.WorkerSettings) []string {
	log := logger.Tagged(ws.Camera.ID)
	vctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	unreachable, err := tg.Verify(vctx, ws.ChatIDs)
	if err != nil {
		log.Warnf("Telegram connection test failed, continuing without alerts: %v", err)
		return nil
	}
	if len(unreachable) == len(ws.ChatIDs) {
		log.Warnf("No valid chat IDs found, continuing without alerts")
		return nil
	}
	log.Infof("Successfully configured %d/%d chat(s) with bot %s",
		len(ws.ChatIDs)-len(unreachable), len(ws.ChatIDs), ws.BotName)
	return ws.ChatIDs
}

// eventPublisher wires event summaries to MQTT and the archive when either is
// configured. background holds the uploader loop; disconnect closes the broker
// connection once the publisher has flushed.
func eventPublisher(ws *models.WorkerSettings) (pub *engine.EventPublisher, background []func(context.Context), disconnect func()) {
	log := logger.Tagged(ws.Camera.ID)
	disconnect = func() {}
	var (
		mqttClient engine.MQTTPublisher
		topic      string
		pubOpts    []engine.PublisherOption
	)

	if ws.MQTT.Broker != "" && ws.MQTT.EventsTopic != "" {
		mcfg := ws.MQTT
		mcfg.ClientID = fmt.Sprintf("%s-%s", mcfg.ClientID, ws.Camera.ID)
		client := mqtt.NewClient(mcfg)
		if err := client.Connect(); err != nil {
			log.Warnf("Failed to connect to MQTT, event summaries are disabled: %v", err)
		} else {
			mqttClient = client
			topic = client.EventsTopic()
			disconnect = client.Disconnect
		}
	}

	if ws.Archive.Enabled {
		mc, err := archive.NewMinioClient(ws.Archive)
		if err != nil {
			log.Warnf("Archive disabled: %v", err)
		} else {
			uploader := archive.NewUploader(mc, ws.Archive.Bucket, archive.DefaultQueueSize)
			pubOpts = append(pubOpts, engine.WithArchiver(uploader))
			background = append(background, uploader.Run)
		}
	}

	if mqttClient == nil && len(pubOpts) == 0 {
		return nil, nil, disconnect
	}
	return engine.NewEventPublisher(mqttClient, topic, pubOpts...), background, disconnect
}

// discardSender stands in when no bot is configured; the dispatcher has no
// recipients then and never calls it.
type discardSender struct{}

func (discardSender) SendPhoto(ctx context.Context, chatID, path, caption string, silent bool) error {
	return errors.New("no bot configured")
}

func (discardSender) SendMessage(ctx context.Context, chatID, text string, silent bool) error {
	return errors.New("no bot configured")
}
