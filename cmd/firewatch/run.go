package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/alert"
	"github.com/Capitan-Parrot/firewatch/internal/api"
	"github.com/Capitan-Parrot/firewatch/internal/audio"
	"github.com/Capitan-Parrot/firewatch/internal/capture"
	"github.com/Capitan-Parrot/firewatch/internal/config"
	"github.com/Capitan-Parrot/firewatch/internal/database"
	"github.com/Capitan-Parrot/firewatch/internal/device"
	"github.com/Capitan-Parrot/firewatch/internal/kafka"
	"github.com/Capitan-Parrot/firewatch/internal/outbox"
	"github.com/Capitan-Parrot/firewatch/internal/runner"
	"github.com/Capitan-Parrot/firewatch/internal/s3"
	"github.com/Capitan-Parrot/firewatch/internal/services/detection"
	"github.com/Capitan-Parrot/firewatch/internal/services/detectionlog"
	"github.com/Capitan-Parrot/firewatch/internal/watchdog"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	journalBuffer   = 64
	reasonShutdown  = "shutdown"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Serve the control API and run the detection pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "device",
				Usage: "Camera to use instead of the first one found",
			},
			&cli.BoolFlag{
				Name:  "start",
				Usage: "Start the pipeline immediately instead of waiting for a command",
			},
			&cli.BoolFlag{
				Name:  "arm-audio",
				Usage: "Allow the alarm sound without asking at the terminal",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := setup(c)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, c, cfg, log)
		},
	}
}

func run(ctx context.Context, c *cli.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Main: init...")
	clock := clockwork.NewRealClock()

	enumerator := device.NewEnumerator(log)
	captureSvc := capture.NewService(capture.MediaDevicesSource{}, cfg.Pipeline.JPEGQuality, log)
	detectionClient := detection.NewClient(cfg.Inference.BaseURL, cfg.Inference.Timeout)
	logClient := detectionlog.NewClient(cfg.DetectionLog.BaseURL, cfg.DetectionLog.Timeout)
	browser := detectionlog.NewBrowser(logClient, cfg.DetectionLog.PageSize, log)

	alarm := audio.NewAlarm(audio.OtoBackend(cfg.Audio.SampleRate), cfg.Audio, log)
	alerts := alert.NewController(alarm, cfg.Pipeline.AlertDwell, clock, log)
	alerts.AddPresenter(alert.NewTerminalPresenter(os.Stdout))
	hub := api.NewHub(alerts.Dismiss, log)
	alerts.AddPresenter(hub)

	deps := runner.Deps{
		Capture:      captureSvc,
		Inferer:      detectionClient,
		Alerts:       alerts,
		Alarm:        alarm,
		Devices:      enumerator,
		PollInterval: cfg.Pipeline.PollInterval,
		Clock:        clock,
		Logger:       log,
	}
	handlerDeps := api.Deps{
		Alerts:    alerts,
		Logs:      browser,
		Snapshots: logClient,
		Preview:   captureSvc,
		Hub:       hub,
		Logger:    log,
	}

	// journal writes outlive ctx so the episode closed by the final Stop is still recorded
	background, cancelBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBackground()
	recorderDone := make(chan struct{})
	close(recorderDone)

	// Alert journal
	var db *database.Database
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = database.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Init(ctx); err != nil {
			return err
		}

		recorder := outbox.NewRecorder(db, journalBuffer, log)
		alerts.AddObserver(recorder)
		recorderDone = make(chan struct{})
		go func() {
			defer close(recorderDone)
			recorder.Run(background)
		}()
		handlerDeps.Journal = db
	}

	// Fire frame archive
	if cfg.Minio.Endpoint != "" {
		minioClient, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.UseSSL, cfg.Minio.Bucket)
		if err != nil {
			return err
		}
		deps.Archive = minioClient
	}

	// Heartbeats, alert events and remote commands
	var consumer *kafka.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.HeartbeatTopic)
		if err != nil {
			return err
		}
		defer producer.Close()
		deps.Heartbeats = producer

		if db != nil {
			dispatcher := outbox.NewDispatcher(db, producer, cfg.Kafka.EventTopic, cfg.Kafka.OutboxInterval, clock, log)
			go dispatcher.Start(background)
		}

		consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.CommandTopic, log)
		if err != nil {
			return err
		}
		defer consumer.Close()
	}

	r := runner.New(deps)
	handlerDeps.Pipeline = r

	devices := r.Devices()
	log.Info("cameras found", zap.Int("count", len(devices)))
	if id, ok := lo.Coalesce(c.String("device"), cfg.Pipeline.DeviceID); ok {
		if err := r.Select(id); err != nil {
			log.Warn("configured camera not available", zap.String("device", id), zap.Error(err))
		}
	}

	if consumer != nil {
		consumer.StartListening(ctx)
		go r.ListenAndRun(ctx, consumer)
	}
	go watchdog.New(enumerator, r, cfg.Pipeline.WatchInterval, clock, log).Start(ctx)

	if c.Bool("start") {
		var gate audio.Gate = audio.PromptGate{In: os.Stdin, Out: os.Stdout}
		if c.Bool("arm-audio") {
			gate = audio.StaticGate(true)
		}
		if err := r.Start(ctx, "", gate); err != nil {
			log.Error("pipeline did not start", zap.Error(err))
		}
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewHandlers(handlerDeps).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting control API server", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
	}

	r.Stop(reasonShutdown)
	cancelBackground()
	<-recorderDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("server shutdown", zap.Error(shutdownErr))
	}

	log.Info("Main: stopped")
	return err
}
