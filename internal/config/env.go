package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every recognized environment override.
const EnvPrefix = "RAFFLEBOT_"

// applyEnv overlays RAFFLEBOT_* variables on top of the file config.
// lookup is os.LookupEnv in production.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	atoi := func(key, v string) (int, error) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s%s: invalid integer %q", EnvPrefix, key, v)
		}
		return n, nil
	}

	if v, ok := get("ROOM_ID"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sROOM_ID: invalid integer %q", EnvPrefix, v)
		}
		cfg.RoomID = n
	}
	if v, ok := get("LEDGER_HOST"); ok {
		cfg.Ledger.Host = v
	}
	if v, ok := get("LEDGER_PORT"); ok {
		n, err := atoi("LEDGER_PORT", v)
		if err != nil {
			return err
		}
		cfg.Ledger.Port = n
	}
	if v, ok := get("PROXY_POOL_HOST"); ok {
		if cfg.ProxyPool == nil {
			cfg.ProxyPool = &ProxyPoolConfig{}
		}
		cfg.ProxyPool.Host = v
	}
	if v, ok := get("PROXY_POOL_PORT"); ok {
		n, err := atoi("PROXY_POOL_PORT", v)
		if err != nil {
			return err
		}
		if cfg.ProxyPool == nil {
			cfg.ProxyPool = &ProxyPoolConfig{}
		}
		cfg.ProxyPool.Port = n
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get("STREAM_URL"); ok {
		cfg.Stream.URL = v
	}
	return nil
}
