package config

import "strings"

const (
	DefaultRaffleCheckURL = "http://api.live.bilibili.com/activity/v1/Raffle/check"
	DefaultRaffleJoinURL  = "http://api.live.bilibili.com/activity/v1/Raffle/join"
	DefaultSmallTVJoinURL = "http://api.live.bilibili.com/gift/v2/smalltv/join"

	DefaultPageSize      = 100
	DefaultProxyAttempts = 5
	DefaultGetTimeout    = "5s"
	DefaultPostTimeout   = "10s"
	DefaultMaxQueueDelay = "2m"
)

// ApplyDefaults fills omitted fields. It never overrides explicit values.
func (c *Config) ApplyDefaults() {
	if c.Ledger.Port == 0 {
		c.Ledger.Port = 80
	}
	c.Ledger.Method = strings.ToLower(strings.TrimSpace(c.Ledger.Method))
	if c.Ledger.Method == "" {
		c.Ledger.Method = "get"
	}
	if c.ProxyPool != nil {
		if strings.TrimSpace(c.ProxyPool.Host) == "" {
			c.ProxyPool = nil
		} else {
			if c.ProxyPool.Port == 0 {
				c.ProxyPool.Port = 80
			}
			if strings.TrimSpace(c.ProxyPool.Path) == "" {
				c.ProxyPool.Path = "/get/"
			}
		}
	}
	if c.Accounts.PageSize == 0 {
		c.Accounts.PageSize = DefaultPageSize
	}
	if strings.TrimSpace(c.Fetch.GetTimeout) == "" {
		c.Fetch.GetTimeout = DefaultGetTimeout
	}
	if strings.TrimSpace(c.Fetch.PostTimeout) == "" {
		c.Fetch.PostTimeout = DefaultPostTimeout
	}
	if c.Fetch.ProxyAttempts == nil {
		n := DefaultProxyAttempts
		c.Fetch.ProxyAttempts = &n
	}
	if c.Endpoints.RaffleCheck == "" {
		c.Endpoints.RaffleCheck = DefaultRaffleCheckURL
	}
	if c.Endpoints.RaffleJoin == "" {
		c.Endpoints.RaffleJoin = DefaultRaffleJoinURL
	}
	if c.Endpoints.SmallTVJoin == "" {
		c.Endpoints.SmallTVJoin = DefaultSmallTVJoinURL
	}
	if c.Join.Concurrency == 0 {
		c.Join.Concurrency = 1
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 256
	}
	if strings.TrimSpace(c.Dispatch.MaxQueueDelay) == "" {
		c.Dispatch.MaxQueueDelay = DefaultMaxQueueDelay
	}
	if c.Stream.ReconnectMin == "" {
		c.Stream.ReconnectMin = "1s"
	}
	if c.Stream.ReconnectMax == "" {
		c.Stream.ReconnectMax = "30s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Ops.Addr == "" {
		c.Ops.Addr = "127.0.0.1:6060"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "rafflebot"
	}
}

// ProxyAttempts returns the effective proxy attempt budget.
func (c *Config) ProxyAttempts() int {
	if c == nil || c.Fetch.ProxyAttempts == nil {
		return DefaultProxyAttempts
	}
	return *c.Fetch.ProxyAttempts
}
