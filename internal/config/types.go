package config

// Config is the on-disk process configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "5s", "1m").
type Config struct {
	// RoomID is the live room whose announcements are followed.
	RoomID int64 `json:"room_id"`

	Ledger LedgerConfig `json:"ledger"`

	// ProxyPool is optional. When omitted (or host is empty) every request goes direct.
	ProxyPool *ProxyPoolConfig `json:"proxy_pool,omitempty"`

	Accounts  AccountsConfig  `json:"accounts"`
	Fetch     FetchConfig     `json:"fetch"`
	Endpoints EndpointsConfig `json:"endpoints"`
	Join      JoinConfig      `json:"join"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Stream    StreamConfig    `json:"stream"`
	Logging   LoggingConfig   `json:"logging"`
	Ops       OpsConfig       `json:"ops"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// LedgerConfig points at the ledger service, which also serves the account directory.
//
// Method selects how join attempts are reported: "get" (default) or "post".
type LedgerConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port,omitempty"`
	Method string `json:"method,omitempty"`
}

type ProxyPoolConfig struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	Path string `json:"path,omitempty"` // default: "/get/"
}

// AccountsConfig controls the account directory snapshot.
//
// Offset/Limit select a slice of the pool (limit 0 means "everything after offset").
// Refresh is an optional cron spec (robfig/cron syntax, e.g. "@every 30m").
// Empty keeps the snapshot frozen for the process lifetime.
type AccountsConfig struct {
	PageSize int    `json:"page_size,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Refresh  string `json:"refresh,omitempty"`
}

type FetchConfig struct {
	GetTimeout    string `json:"get_timeout,omitempty"`
	PostTimeout   string `json:"post_timeout,omitempty"`
	ProxyAttempts *int   `json:"proxy_attempts,omitempty"`
}

// EndpointsConfig overrides the live API endpoints (tests, mirrors).
type EndpointsConfig struct {
	RaffleCheck string `json:"raffle_check,omitempty"`
	RaffleJoin  string `json:"raffle_join,omitempty"`
	SmallTVJoin string `json:"smalltv_join,omitempty"`
}

// JoinConfig controls per-giveaway fan-out.
// Concurrency 1 processes accounts one after another.
type JoinConfig struct {
	Concurrency int `json:"concurrency,omitempty"`
}

// DispatchConfig bounds the orchestration work spawned per event.
//
// Unbounded restores one goroutine per event with no queue (no backpressure).
// MaxQueueDelay drops queued announcements that waited longer than this;
// "0s" keeps them regardless of age.
type DispatchConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	Unbounded     bool   `json:"unbounded,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
}

// StreamConfig points at a websocket relay that emits decoded room frames as JSON.
type StreamConfig struct {
	URL          string `json:"url"`
	ReconnectMin string `json:"reconnect_min,omitempty"`
	ReconnectMax string `json:"reconnect_max,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards WARN+ log lines to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// OpsConfig controls the optional ops HTTP server (health, status, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name,omitempty"`
}
