package gateway

import "trading-console/pkg/config"

// ConfigFromEnv maps the application configuration onto session settings,
// keeping library defaults for anything unset.
func ConfigFromEnv(c *config.Config) Config {
	cfg := DefaultConfig()
	if c == nil {
		return cfg
	}
	if c.GatewayHost != "" {
		cfg.Host = c.GatewayHost
	}
	if c.GatewayPort > 0 {
		cfg.Port = c.GatewayPort
	}
	if c.ClientID >= 0 {
		cfg.ClientID = c.ClientID
	}
	cfg.Account = c.Account
	if c.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.ConnectTimeout
	}
	if c.RequestTimeout > 0 {
		cfg.RequestTimeout = c.RequestTimeout
	}
	if c.ConnectAttempts > 0 {
		cfg.ConnectAttempts = c.ConnectAttempts
	}
	if c.MaxMessageRate > 0 {
		cfg.MaxMessageRate = c.MaxMessageRate
	}
	if c.MarketDataType > 0 {
		cfg.MarketDataType = c.MarketDataType
	}
	if c.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = c.HeartbeatInterval
	}
	if c.RequestIDBase > 0 {
		cfg.RequestIDBase = c.RequestIDBase
	}
	return cfg
}

// NewFromEnv builds a disconnected session from the application config.
func NewFromEnv(c *config.Config, opts ...Option) *Session {
	return NewSession(ConfigFromEnv(c), opts...)
}
