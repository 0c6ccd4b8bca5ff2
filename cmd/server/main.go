package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apollo/internal/backup"
	"apollo/internal/control"
	"apollo/internal/platform/config"
	"apollo/internal/playback"

	"github.com/spf13/cobra"
)

const (
	driverSimulated = "simulated"
	driverGStreamer = "gstreamer"
)

// options holds every setting of the node. Flags default to the environment.
type options struct {
	address         string
	logLevel        string
	logFormat       string
	backupLocation  string
	backupPrefix    string
	connectTimeout  time.Duration
	backupTimeout   time.Duration
	settle          time.Duration
	mqttBroker      string
	mqttTopic       string
	driver          string
	shutdownTimeout time.Duration
	notifyQueueSize int
	layout          bool
}

func main() {
	_ = config.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultDriver() string {
	if playback.Available {
		return driverGStreamer
	}
	return driverSimulated
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "apollo",
		Short:         "Media playback node for show control",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.driver {
			case driverSimulated, driverGStreamer:
			default:
				return fmt.Errorf("unknown playback driver %q", opts.driver)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.address, "address", "a", config.GetEnv("APOLLO_ADDRESS", "127.0.0.1:27655"), "HTTP listen address (host:port)")
	f.StringVarP(&opts.logLevel, "log-level", "l", config.GetEnv("LOG_LEVEL", "warn"), "Log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", config.GetEnv("LOG_FORMAT", "json"), "Log format: json or text")
	f.StringVarP(&opts.backupLocation, "backup", "b", config.GetEnv("BACKUP_LOCATION", ""), "Backup store (redis://, sqlite://, memory://); empty disables backup")
	f.StringVar(&opts.backupPrefix, "backup-prefix", config.GetEnv("BACKUP_PREFIX", backup.DefaultPrefix), "Key prefix in the backup store")
	f.DurationVar(&opts.connectTimeout, "backup-connect-timeout", config.GetEnvDuration("BACKUP_CONNECT_TIMEOUT", 10*time.Second), "How long to retry the backup connection")
	f.DurationVar(&opts.backupTimeout, "backup-op-timeout", config.GetEnvDuration("BACKUP_OP_TIMEOUT", backup.DefaultOpTimeout), "Timeout of a single backup read or write")
	f.DurationVar(&opts.settle, "settle", config.GetEnvDuration("RECOVERY_SETTLE", control.DefaultSettle), "Pause between cueing and seeking during recovery")
	f.StringVar(&opts.mqttBroker, "mqtt-broker", config.GetEnv("MQTT_BROKER", ""), "MQTT broker (host:port) for display events; empty disables")
	f.StringVar(&opts.mqttTopic, "mqtt-topic", config.GetEnv("MQTT_TOPIC", "apollo/events"), "MQTT topic prefix")
	f.StringVar(&opts.driver, "driver", config.GetEnv("PLAYBACK_DRIVER", defaultDriver()), "Playback driver: simulated or gstreamer")
	f.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", config.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second), "Grace period for draining HTTP connections")
	f.IntVar(&opts.notifyQueueSize, "notify-queue", config.GetEnvInt("NOTIFY_QUEUE_SIZE", 256), "Pending display events per consumer before dropping")
	f.BoolVar(&opts.layout, "layout", config.GetEnvBool("LAYOUT_ENDPOINT", true), "Serve the display layout at GET /layout")
	return cmd
}
