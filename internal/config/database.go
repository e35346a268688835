package config

// DatabaseConfig holds settings for the optional telemetry store.
// When URL is set it takes priority over Server/Port and is used verbatim.
// Leaving Enabled false runs the gateway without any persistence.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"ENABLED" json:"enabled"`
	URL     string `mapstructure:"URL"     json:"url"     validate:"omitempty"`
	Server  string `mapstructure:"SERVER"  json:"server"  validate:"omitempty,host"`
	Port    int    `mapstructure:"PORT"    json:"port"    validate:"omitempty,min=1,max=65535"`
	User    string `mapstructure:"USER"    json:"user"    validate:"omitempty,max=63"`
	Name    string `mapstructure:"NAME"    json:"name"    validate:"omitempty,max=63"`
}
