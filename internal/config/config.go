package config

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Host              string
	Port              string
	DBPath            string
	JWTSecret         string `json:"-"`
	LogLevel          string
	Debug             bool
	ShortenerBaseURL  string
	ShortenerToken    string `json:"-"`
	ShortenerTimeout  time.Duration
	IngestToken       string `json:"-"`
	GeoIPDatabasePath string
}

// FromEnv reads the configuration from the environment, loading a .env file
// first when one is present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Host:              cmp.Or(os.Getenv("HOST"), "localhost"),
		Port:              cmp.Or(os.Getenv("PORT"), "8080"),
		DBPath:            cmp.Or(os.Getenv("DB_PATH"), "qrlinks.db"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		LogLevel:          cmp.Or(os.Getenv("LOG_LEVEL"), "info"),
		Debug:             os.Getenv("DEBUG") == "1",
		ShortenerBaseURL:  cmp.Or(os.Getenv("SHORTENER_BASE_URL"), "https://qr-me.xyz"),
		ShortenerToken:    os.Getenv("SHORTENER_TOKEN"),
		IngestToken:       os.Getenv("INGEST_TOKEN"),
		GeoIPDatabasePath: os.Getenv("GEOIP_DB_PATH"),
	}

	timeout, err := time.ParseDuration(cmp.Or(os.Getenv("SHORTENER_TIMEOUT"), "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SHORTENER_TIMEOUT: %w", err)
	}
	cfg.ShortenerTimeout = timeout

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "change-me"
		log.Warn().Msg("using default JWT_SECRET - set JWT_SECRET for production")
	}

	if cfg.ShortenerToken == "" {
		log.Warn().Msg("SHORTENER_TOKEN is empty - link creation will be rejected by the shortener")
	}

	return cfg, nil
}
