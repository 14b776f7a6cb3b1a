// Package config loads runtime settings from the environment.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Settings holds all runtime configuration.
type Settings struct {
	APIHost string
	APIPort int

	ProxyHost        string
	ProxyPort        int
	ProxySSLInsecure bool

	DatabaseURL string
	CORSOrigins []string

	BodySizeCap            int64
	CertDir                string
	LeafCertTTLDays        int
	UpstreamTimeoutSeconds int

	LogFile  string
	LogLevel string
}

// Load reads settings from environment variables with sensible defaults.
func Load() *Settings {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("API_HOST", "0.0.0.0")
	v.SetDefault("API_PORT", 8000)
	v.SetDefault("PROXY_HOST", "0.0.0.0")
	v.SetDefault("PROXY_PORT", 8080)
	v.SetDefault("PROXY_SSL_INSECURE", true)
	v.SetDefault("DATABASE_URL", "webapi_moderator.db")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_SIZE_CAP", int64(10*1024*1024))
	v.SetDefault("CERT_DIR", "./certs")
	v.SetDefault("LEAF_CERT_TTL_DAYS", 825)
	v.SetDefault("UPSTREAM_TIMEOUT_SECONDS", 30)
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_LEVEL", "info")

	origins := make([]string, 0)
	for _, o := range strings.Split(v.GetString("CORS_ORIGINS"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}

	return &Settings{
		APIHost:                v.GetString("API_HOST"),
		APIPort:                v.GetInt("API_PORT"),
		ProxyHost:              v.GetString("PROXY_HOST"),
		ProxyPort:              v.GetInt("PROXY_PORT"),
		ProxySSLInsecure:       v.GetBool("PROXY_SSL_INSECURE"),
		DatabaseURL:            v.GetString("DATABASE_URL"),
		CORSOrigins:            origins,
		BodySizeCap:            v.GetInt64("BODY_SIZE_CAP"),
		CertDir:                v.GetString("CERT_DIR"),
		LeafCertTTLDays:        v.GetInt("LEAF_CERT_TTL_DAYS"),
		UpstreamTimeoutSeconds: v.GetInt("UPSTREAM_TIMEOUT_SECONDS"),
		LogFile:                v.GetString("LOG_FILE"),
		LogLevel:               v.GetString("LOG_LEVEL"),
	}
}
