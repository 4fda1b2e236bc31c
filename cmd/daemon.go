// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Thermoquad/tempbus/internal/config"
	"github.com/Thermoquad/tempbus/internal/daemon"
	"github.com/Thermoquad/tempbus/internal/logging"
	"github.com/Thermoquad/tempbus/internal/mqttsink"
	"github.com/Thermoquad/tempbus/pkg/r4dcb08"
)

var (
	daemonConfigPath string

	// File overrides, applied only when set on the command line
	daemonMQTTHost      string
	daemonMQTTPort      int
	daemonMQTTUser      string
	daemonTopicPrefix   string
	daemonInterval      time.Duration
	daemonChannels      int
	daemonMedian        bool
	daemonMAF           bool
	daemonMAFWindow     int
	daemonMetricsListen string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Publish temperatures to an MQTT broker",
	Long: `Read the module periodically and publish every channel to an MQTT broker.

Topics are <topic_prefix>/<address>/temperature/chN, .../timestamp,
.../status (online, error, offline) and .../diagnostics. The broker
receives "offline" on .../status as last will.

Settings come from the YAML file given with --config; command line flags
override the file. The MQTT password is read from mqtt.password_file, the
MQTT_PASSWORD environment variable or the file, in that order.

The daemon stops after too many consecutive read or reconnect failures.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	f := daemonCmd.Flags()
	f.StringVarP(&daemonConfigPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&daemonMQTTHost, "mqtt-host", config.DefaultMQTTHost, "MQTT broker host")
	f.IntVar(&daemonMQTTPort, "mqtt-port", 0, "MQTT broker port (0 = 1883, or 8883 with TLS)")
	f.StringVar(&daemonMQTTUser, "mqtt-username", "", "MQTT username")
	f.StringVar(&daemonTopicPrefix, "topic-prefix", config.DefaultTopicPrefix, "MQTT topic prefix")
	f.DurationVar(&daemonInterval, "interval", config.DefaultInterval, "Sampling interval")
	f.IntVarP(&daemonChannels, "channels", "n", config.DefaultChannels, "Number of channels to read (1-8)")
	f.BoolVar(&daemonMedian, "median", false, "Apply three-point median filter")
	f.BoolVar(&daemonMAF, "maf", false, "Apply moving average filter")
	f.IntVar(&daemonMAFWindow, "maf-window", config.DefaultMAFWindow, "Moving average window (odd, 3-15)")
	f.StringVar(&daemonMetricsListen, "metrics-listen", "", "Prometheus metrics address (e.g. :9108)")
}

// applyDaemonFlags copies every flag the user set onto cfg
func applyDaemonFlags(cfg *config.Config, persistent, local *pflag.FlagSet) {
	set := func(fs *pflag.FlagSet, name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}

	set(persistent, "port", func() { cfg.Serial.Port = portName })
	set(persistent, "baud", func() { cfg.Serial.Baudrate = baudRate })
	set(persistent, "address", func() { cfg.Serial.Address = deviceAddress })
	set(persistent, "url", func() { cfg.Serial.URL = wsURL })
	set(persistent, "username", func() { cfg.Serial.Username = wsUsername })
	set(persistent, "no-ssl-verify", func() { cfg.Serial.Insecure = wsNoSSLVerify })
	set(persistent, "log-level", func() { cfg.Log.Level = logLevel })
	set(persistent, "log-format", func() { cfg.Log.Format = logFormat })

	set(local, "mqtt-host", func() { cfg.MQTT.Host = daemonMQTTHost })
	set(local, "mqtt-port", func() { cfg.MQTT.Port = daemonMQTTPort })
	set(local, "mqtt-username", func() { cfg.MQTT.Username = daemonMQTTUser })
	set(local, "topic-prefix", func() { cfg.MQTT.TopicPrefix = daemonTopicPrefix })
	set(local, "interval", func() { cfg.Daemon.Interval = daemonInterval })
	set(local, "channels", func() { cfg.Serial.Channels = daemonChannels })
	set(local, "median", func() { cfg.Filter.Median = daemonMedian })
	set(local, "maf", func() { cfg.Filter.MAF = daemonMAF })
	set(local, "maf-window", func() { cfg.Filter.MAFWindow = daemonMAFWindow })
	set(local, "metrics-listen", func() { cfg.Metrics.Listen = daemonMetricsListen })
}

// loadDaemonConfig loads the file, applies flag overrides and validates
func loadDaemonConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(daemonConfigPath)
	if err != nil {
		return nil, err
	}
	applyDaemonFlags(cfg, cmd.Root().PersistentFlags(), cmd.Flags())

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	config.Normalize(cfg)
	if err := config.ResolvePassword(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deviceOpener returns a daemon.Opener dialing the configured bus. The
// bridge password is asked for once, not on every reopen.
func deviceOpener(cfg *config.Config, log *slog.Logger) (daemon.Opener, error) {
	password, err := bridgePassword(cfg.Serial.URL, cfg.Serial.Username)
	if err != nil {
		return nil, err
	}

	return func() (daemon.Device, io.Closer, error) {
		conn, desc, err := Dial(cfg.Serial.Port, cfg.Serial.Baudrate,
			cfg.Serial.URL, cfg.Serial.Username, password, cfg.Serial.Insecure)
		if err != nil {
			return nil, nil, err
		}
		log.Info("transport opened", "transport", desc)
		client := r4dcb08.NewClient(conn, r4dcb08.WithLogger(log))
		return client, conn, nil
	}, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig(cmd)
	if err != nil {
		return err
	}

	// The file may choose a different log setup than the flag defaults
	log, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go watchHangup(ctx, log)

	open, err := deviceOpener(cfg, log)
	if err != nil {
		return err
	}

	sink, err := mqttsink.New(mqttsink.OptionsFromConfig(cfg), log.With("component", "mqtt"))
	if err != nil {
		return err
	}
	defer sink.Close()

	broker := mqttsink.BrokerURL(cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.TLS.Enabled)
	if err := sink.Connect(); err != nil {
		// The loop keeps retrying with backoff
		log.Warn("broker not reachable", "broker", broker, "error", err)
	} else {
		log.Info("connected to broker", "broker", broker)
	}

	metrics := daemon.NewMetrics()
	if cfg.Metrics.Listen != "" {
		srv := startMetricsServer(cfg.Metrics.Listen, metrics, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	d, err := daemon.New(daemon.OptionsFromConfig(cfg), open, sink, log, metrics)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

func startMetricsServer(addr string, metrics *daemon.Metrics, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint failed", "error", err)
		}
	}()
	return srv
}

// watchHangup logs SIGHUP until ctx ends
func watchHangup(ctx context.Context, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			log.Info("SIGHUP received, configuration reload is not supported")
		}
	}
}
