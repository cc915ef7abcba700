package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks a defaulted config. It is used at startup and before
// committing a hot-reloaded file.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.RoomID <= 0 {
		return fmt.Errorf("room_id must be > 0")
	}
	if strings.TrimSpace(c.Ledger.Host) == "" {
		return fmt.Errorf("ledger.host is required")
	}
	if err := validPort("ledger.port", c.Ledger.Port); err != nil {
		return err
	}
	switch c.Ledger.Method {
	case "get", "post":
	default:
		return fmt.Errorf("ledger.method: unsupported %q (want get or post)", c.Ledger.Method)
	}
	if c.ProxyPool != nil {
		if err := validPort("proxy_pool.port", c.ProxyPool.Port); err != nil {
			return err
		}
	}
	if c.Accounts.PageSize <= 0 {
		return fmt.Errorf("accounts.page_size must be > 0")
	}
	if c.Accounts.Offset < 0 {
		return fmt.Errorf("accounts.offset must be >= 0")
	}
	if c.Accounts.Limit < 0 {
		return fmt.Errorf("accounts.limit must be >= 0")
	}
	if spec := strings.TrimSpace(c.Accounts.Refresh); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("accounts.refresh: invalid schedule %q: %w", spec, err)
		}
	}
	if c.ProxyAttempts() < 0 {
		return fmt.Errorf("fetch.proxy_attempts must be >= 0")
	}
	for path, raw := range map[string]string{
		"fetch.get_timeout":        c.Fetch.GetTimeout,
		"fetch.post_timeout":       c.Fetch.PostTimeout,
		"dispatch.timeout":         c.Dispatch.Timeout,
		"dispatch.max_queue_delay": c.Dispatch.MaxQueueDelay,
		"stream.reconnect_min":     c.Stream.ReconnectMin,
		"stream.reconnect_max":     c.Stream.ReconnectMax,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if c.Join.Concurrency < 0 {
		return fmt.Errorf("join.concurrency must be >= 0")
	}
	if c.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must be >= 0")
	}
	if c.Dispatch.QueueSize < 0 {
		return fmt.Errorf("dispatch.queue_size must be >= 0")
	}
	if c.Logging.Telegram.Enabled {
		if strings.TrimSpace(c.Logging.Telegram.Token) == "" || c.Logging.Telegram.ChatID == 0 {
			return fmt.Errorf("logging.telegram: token and chat_id are required when enabled")
		}
	}
	return nil
}

func validPort(path string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s: invalid port %d", path, port)
	}
	return nil
}
