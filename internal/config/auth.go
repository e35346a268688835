package config

import "time"

// AuthConfig holds bearer-token verification settings.
// Tokens are HMAC-signed JWTs issued by the external auth service;
// the gateway only verifies them.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"JWT_SECRET" json:"-"       validate:"required,min=16"`
	Issuer    string        `mapstructure:"ISSUER"     json:"issuer"  validate:"omitempty,max=100"`
	Leeway    time.Duration `mapstructure:"LEEWAY"     json:"leeway"  validate:"omitempty"`
}
