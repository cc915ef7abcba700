package app

import (
	"time"

	"rafflebot/internal/config"
	"rafflebot/internal/fetch"
	"rafflebot/internal/livestream"
	"rafflebot/internal/ops"
	"rafflebot/internal/runtime/supervisor"
	"rafflebot/internal/task/engine"
	logx "rafflebot/pkg/logx"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

var SummarizeConfigChange = config.SummarizeConfigChange

// LiveSections are applied on reload; other sections need a restart.
var LiveSections = config.LiveSections

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.NewSupervisor

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

// ---- Mapping ----

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapFetchOptions(cfg *config.Config) (fetch.Options, error) {
	getTimeout, err := config.ParseDurationOrDefault("fetch.get_timeout", cfg.Fetch.GetTimeout, 5*time.Second)
	if err != nil {
		return fetch.Options{}, err
	}
	postTimeout, err := config.ParseDurationOrDefault("fetch.post_timeout", cfg.Fetch.PostTimeout, 10*time.Second)
	if err != nil {
		return fetch.Options{}, err
	}
	return fetch.Options{GetTimeout: getTimeout, PostTimeout: postTimeout}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.ParseDurationField("dispatch.timeout", cfg.Dispatch.Timeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("dispatch.max_queue_delay", cfg.Dispatch.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        cfg.Dispatch.Workers,
		QueueSize:      cfg.Dispatch.QueueSize,
		DefaultTimeout: timeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    100,
	}, nil
}

func mapStreamOptions(cfg *config.Config) (livestream.Options, error) {
	lo, err := config.ParseDurationOrDefault("stream.reconnect_min", cfg.Stream.ReconnectMin, time.Second)
	if err != nil {
		return livestream.Options{}, err
	}
	hi, err := config.ParseDurationOrDefault("stream.reconnect_max", cfg.Stream.ReconnectMax, 30*time.Second)
	if err != nil {
		return livestream.Options{}, err
	}
	return livestream.Options{
		URL:          cfg.Stream.URL,
		RoomID:       cfg.RoomID,
		ReconnectMin: lo,
		ReconnectMax: hi,
	}, nil
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
		Trace:         cfg.Telemetry.Enabled,
	}
}
