package utils

import (
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/intakehq/journalstore/utils/log"
)

// Config carries the daemon-level settings read from the YAML configuration
// file. Journal engine settings are converted to a journal.Config by the
// start command.
type Config struct {
	JournalDirectory        string
	ListenURL               string
	StopGracePeriod         time.Duration
	SegmentSize             int64
	SegmentAge              time.Duration
	FlushInterval           int64
	FlushAge                time.Duration
	MaxJournalSize          int64
	MaxJournalAge           time.Duration
	FlushCheckInterval      time.Duration
	FlushCheckpointInterval time.Duration
	RetentionCheckInterval  time.Duration
	FileDeleteDelay         time.Duration
	IndexInterval           int
	MaxIndexSize            int
}

// ConfigError is a fatal configuration problem. The daemon refuses to start
// on any of these.
type ConfigError string

func (e ConfigError) Error() string {
	return "invalid configuration: " + string(e)
}

// ParseConfig reads the YAML configuration and applies defaults for any
// omitted option.
func ParseConfig(data []byte) (*Config, error) {
	var aux struct {
		JournalDirectory        string `yaml:"journal_directory"`
		ListenURL               string `yaml:"listen_url"`
		LogLevel                string `yaml:"log_level"`
		StopGracePeriod         string `yaml:"stop_grace_period"`
		SegmentSize             string `yaml:"segment_size"`
		SegmentAge              string `yaml:"segment_age"`
		FlushInterval           int64  `yaml:"flush_interval"`
		FlushAge                string `yaml:"flush_age"`
		MaxJournalSize          string `yaml:"max_journal_size"`
		MaxJournalAge           string `yaml:"max_journal_age"`
		FlushCheckInterval      string `yaml:"flush_check_interval"`
		FlushCheckpointInterval string `yaml:"flush_checkpoint_interval"`
		RetentionCheckInterval  string `yaml:"retention_check_interval"`
		FileDeleteDelay         string `yaml:"file_delete_delay"`
		IndexInterval           int    `yaml:"index_interval"`
		MaxIndexSize            string `yaml:"max_index_size"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if aux.JournalDirectory == "" {
		return nil, ConfigError("journal_directory must be set")
	}

	if aux.LogLevel != "" {
		log.SetLevel(log.ParseLevel(aux.LogLevel))
	}

	m := &Config{
		JournalDirectory: aux.JournalDirectory,
		ListenURL:        aux.ListenURL,
		FlushInterval:    aux.FlushInterval,
		IndexInterval:    aux.IndexInterval,
	}

	var err error
	if m.StopGracePeriod, err = parseDuration(aux.StopGracePeriod, 5*time.Second); err != nil {
		return nil, ConfigError("stop_grace_period: " + err.Error())
	}
	if m.SegmentSize, err = parseSize(aux.SegmentSize, 100*1024*1024); err != nil {
		return nil, ConfigError("segment_size: " + err.Error())
	}
	if m.SegmentAge, err = parseDuration(aux.SegmentAge, time.Hour); err != nil {
		return nil, ConfigError("segment_age: " + err.Error())
	}
	if m.FlushAge, err = parseDuration(aux.FlushAge, time.Minute); err != nil {
		return nil, ConfigError("flush_age: " + err.Error())
	}
	if m.MaxJournalSize, err = parseSize(aux.MaxJournalSize, 5*1024*1024*1024); err != nil {
		return nil, ConfigError("max_journal_size: " + err.Error())
	}
	if m.MaxJournalAge, err = parseDuration(aux.MaxJournalAge, 12*time.Hour); err != nil {
		return nil, ConfigError("max_journal_age: " + err.Error())
	}
	if m.FlushCheckInterval, err = parseDuration(aux.FlushCheckInterval, time.Minute); err != nil {
		return nil, ConfigError("flush_check_interval: " + err.Error())
	}
	if m.FlushCheckpointInterval, err = parseDuration(aux.FlushCheckpointInterval, time.Minute); err != nil {
		return nil, ConfigError("flush_checkpoint_interval: " + err.Error())
	}
	if m.RetentionCheckInterval, err = parseDuration(aux.RetentionCheckInterval, time.Minute); err != nil {
		return nil, ConfigError("retention_check_interval: " + err.Error())
	}
	if m.FileDeleteDelay, err = parseDuration(aux.FileDeleteDelay, time.Minute); err != nil {
		return nil, ConfigError("file_delete_delay: " + err.Error())
	}
	maxIndexSize, err := parseSize(aux.MaxIndexSize, 1024*1024)
	if err != nil {
		return nil, ConfigError("max_index_size: " + err.Error())
	}
	m.MaxIndexSize = int(maxIndexSize)

	if m.FlushInterval == 0 {
		m.FlushInterval = 1_000_000
	}
	if m.IndexInterval == 0 {
		m.IndexInterval = 4096
	}

	return m, nil
}

// parseSize accepts bytefmt strings ("100M", "1G") and the literal "-1",
// which callers use to disable size limits.
func parseSize(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	if strings.TrimSpace(s) == "-1" {
		return -1, nil
	}
	b, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(b), nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
