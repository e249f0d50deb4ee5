package config

import (
	"encoding/json"
	"os"

	"github.com/avolkau/wayfinder-auth/internal/flagx"
	"github.com/avolkau/wayfinder-auth/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for lifetime fields, which allows
// parsing both string values such as "15m" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	EndpointAddrHTTP     string         `json:"endpoint_addr_http"`
	DatabaseDSN          string         `json:"database_dsn"`
	JWTSecret            string         `json:"jwt_secret"`
	JWTIssuer            string         `json:"jwt_issuer"`
	JWTAudience          string         `json:"jwt_audience"`
	AccessTokenValidity  timex.Duration `json:"access_token_validity"`
	RefreshTokenValidity timex.Duration `json:"refresh_token_validity"`
	ResetTokenValidity   timex.Duration `json:"reset_token_validity"`
	PublicBaseURL        string         `json:"public_base_url"`
	LoginRatePerMinute   int            `json:"login_rate_per_minute"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.JWTSecret = c.JWTSecret
	config.JWTIssuer = c.JWTIssuer
	config.JWTAudience = c.JWTAudience
	config.AccessTokenValidity = c.AccessTokenValidity.Duration
	config.RefreshTokenValidity = c.RefreshTokenValidity.Duration
	config.ResetTokenValidity = c.ResetTokenValidity.Duration
	config.PublicBaseURL = c.PublicBaseURL
	config.LoginRatePerMinute = c.LoginRatePerMinute
}
