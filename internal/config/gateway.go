package config

import "time"

// GatewayConfig holds realtime-gateway settings.
type GatewayConfig struct {
	Name             string           `mapstructure:"NAME"              json:"name"              validate:"required,min=1,max=30"`
	Description      string           `mapstructure:"DESCRIPTION"       json:"description"       validate:"omitempty,max=200"`
	Contact          string           `mapstructure:"CONTACT"           json:"contact"           validate:"omitempty,email"`
	WSAddr           string           `mapstructure:"WS_ADDR"           json:"ws_addr"           validate:"required,wsaddr"`
	PublicURL        string           `mapstructure:"PUBLIC_URL"        json:"public_url"        validate:"omitempty,url"`
	IdleTimeout      time.Duration    `mapstructure:"IDLE_TIMEOUT"      json:"idle_timeout"      validate:"required,reasonable_duration"`
	WriteTimeout     time.Duration    `mapstructure:"WRITE_TIMEOUT"     json:"write_timeout"     validate:"required,timeout_duration"`
	SendBufferSize   int              `mapstructure:"SEND_BUFFER_SIZE"  json:"send_buffer_size"  validate:"required,min=16,max=4096"`
	MaxMessageBytes  int64            `mapstructure:"MAX_MESSAGE_BYTES" json:"max_message_bytes" validate:"required,min=1024,max=4194304"`
	ThrottlingConfig ThrottlingConfig `mapstructure:"THROTTLING"        json:"throttling"        validate:"required"`
}

// ThrottlingConfig holds connection limiting and ban settings.
type ThrottlingConfig struct {
	RateLimit      RateLimitConfig `mapstructure:"RATE_LIMIT"      json:"rate_limit"`
	MaxConnections int             `mapstructure:"MAX_CONNECTIONS" json:"max_connections" validate:"required,min=1,max=100000"`
	BanThreshold   int             `mapstructure:"BAN_THRESHOLD"   json:"ban_threshold"   validate:"required,min=1,max=1000"`
	BanDuration    int             `mapstructure:"BAN_DURATION"    json:"ban_duration"    validate:"required,min=1,max=86400"`
}

// RateLimitConfig holds per-connection inbound message limits.
type RateLimitConfig struct {
	Enabled              bool `mapstructure:"ENABLED"                 json:"enabled"`
	MaxMessagesPerSecond int  `mapstructure:"MAX_MESSAGES_PER_SECOND" json:"max_messages_per_second" validate:"min=0,max=10000"`
	BurstSize            int  `mapstructure:"BURST_SIZE"              json:"burst_size"              validate:"min=0,max=1000"`
}
