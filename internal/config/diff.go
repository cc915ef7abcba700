package config

import (
	"reflect"
	"strings"

	logx "rafflebot/pkg/logx"
)

// LiveSections lists config sections applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging (never includes tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 8)

	if oldCfg.RoomID != newCfg.RoomID {
		changed = append(changed, "room_id")
		attrs = append(attrs, logx.Int64("room_id", newCfg.RoomID))
	}
	if !reflect.DeepEqual(oldCfg.Ledger, newCfg.Ledger) {
		changed = append(changed, "ledger")
		attrs = append(attrs, logx.String("ledger.host", newCfg.Ledger.Host), logx.String("ledger.method", newCfg.Ledger.Method))
	}
	if !reflect.DeepEqual(oldCfg.ProxyPool, newCfg.ProxyPool) {
		changed = append(changed, "proxy_pool")
		attrs = append(attrs, logx.Bool("proxy_pool.enabled", newCfg.ProxyPool != nil))
	}
	if oldCfg.Accounts != newCfg.Accounts {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Int("accounts.page_size", newCfg.Accounts.PageSize), logx.String("accounts.refresh", newCfg.Accounts.Refresh))
	}
	if !reflect.DeepEqual(oldCfg.Fetch, newCfg.Fetch) {
		changed = append(changed, "fetch")
		attrs = append(attrs, logx.Int("fetch.proxy_attempts", newCfg.ProxyAttempts()))
	}
	if oldCfg.Endpoints != newCfg.Endpoints {
		changed = append(changed, "endpoints")
	}
	if oldCfg.Join != newCfg.Join {
		changed = append(changed, "join")
		attrs = append(attrs, logx.Int("join.concurrency", newCfg.Join.Concurrency))
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.Int("dispatch.workers", newCfg.Dispatch.Workers), logx.Bool("dispatch.unbounded", newCfg.Dispatch.Unbounded))
	}
	if oldCfg.Stream != newCfg.Stream {
		changed = append(changed, "stream")
	}

	// Logging (never log the bot token)
	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol.Level != nl.Level || ol.Console != nl.Console || ol.File != nl.File ||
		ol.Telegram.Enabled != nl.Telegram.Enabled || ol.Telegram.ChatID != nl.Telegram.ChatID ||
		ol.Telegram.MinLevel != nl.Telegram.MinLevel || ol.Telegram.RatePerSec != nl.Telegram.RatePerSec ||
		strings.TrimSpace(ol.Telegram.Token) != strings.TrimSpace(nl.Telegram.Token) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	// Ops (never log token)
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}
	if oldCfg.Telemetry != newCfg.Telemetry {
		changed = append(changed, "telemetry")
	}
	return changed, attrs
}
