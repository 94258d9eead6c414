package start

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/intakehq/journalstore/journal"
	"github.com/intakehq/journalstore/metrics"
	"github.com/intakehq/journalstore/utils"
	"github.com/intakehq/journalstore/utils/clock"
	"github.com/intakehq/journalstore/utils/log"
)

const (
	usage                 = "start"
	short                 = "Start a journalstore daemon"
	long                  = "This command starts a journalstore daemon"
	example               = "journalstore start --config <path>"
	defaultConfigFilePath = "./journalstore.yml"
	configDesc            = "set the path for the journalstore YAML configuration file"

	diskUsageMonitorInterval = 10 * time.Minute
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	// Don't output command usage if args are correct.
	cmd.SilenceUsage = true

	// Log config location.
	log.Info("using %v for configuration", configFilePath)

	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file: %w", err)
	}

	log.Info("initializing journalstore...")
	startTime := time.Now()

	reg := prometheus.NewRegistry()
	daemonMetrics := metrics.NewDaemon(reg)

	j, err := journal.NewJournal(journalConfig(config), clock.New(), reg)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	j.Start()

	stopMonitor := make(chan struct{})
	go metrics.StartDiskUsageMonitor(daemonMetrics.JournalDiskUse, config.JournalDirectory,
		diskUsageMonitorInterval, stopMonitor)

	daemonMetrics.StartupTime.Set(time.Since(startTime).Seconds())
	log.Info("startup time: %s", time.Since(startTime))

	// Set monitoring handler.
	log.Info("launching prometheus metrics server...")
	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Spawn a goroutine and listen for a signal.
	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 request")
				if err2 := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err2 != nil {
					log.Error("failed to write goroutine pprof: %v", err2)
					return
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("initiating graceful shutdown due to '%v' request", s)
				log.Info("waiting a grace period of %v to shutdown...", config.StopGracePeriod)
				time.Sleep(config.StopGracePeriod)
				close(stopMonitor)
				j.Shutdown()
				log.Info("exiting...")
				os.Exit(0)
			}
		}
	}()
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	if config.ListenURL == "" {
		config.ListenURL = ":5577"
	}
	log.Info("launching tcp listener on %s...", config.ListenURL)
	if err := http.ListenAndServe(config.ListenURL, nil); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// journalConfig maps the daemon configuration onto the journal engine's.
func journalConfig(c *utils.Config) journal.Config {
	return journal.Config{
		Directory:               c.JournalDirectory,
		SegmentBytes:            c.SegmentSize,
		SegmentAge:              c.SegmentAge,
		FlushIntervalMessages:   c.FlushInterval,
		FlushAge:                c.FlushAge,
		RetentionBytes:          c.MaxJournalSize,
		RetentionAge:            c.MaxJournalAge,
		FlushCheckInterval:      c.FlushCheckInterval,
		FlushCheckpointInterval: c.FlushCheckpointInterval,
		RetentionCheckInterval:  c.RetentionCheckInterval,
		FileDeleteDelay:         c.FileDeleteDelay,
		IndexIntervalBytes:      c.IndexInterval,
		MaxIndexSizeBytes:       c.MaxIndexSize,
	}
}
