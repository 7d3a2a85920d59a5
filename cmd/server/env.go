package main

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// serverEnv is process-level configuration that does not belong in
// config.yaml.
type serverEnv struct {
	DeployEnv       string `env:"DEPLOY_ENV"`
	EnableAdminHTTP bool   `env:"RAILCART_ENABLE_ADMIN_HTTP"`
	EnablePprofHTTP bool   `env:"RAILCART_ENABLE_PPROF_HTTP"`

	IndexBackend string `env:"RAILCART_INDEX_BACKEND" envDefault:"sqlite"`
	D1IngestURL  string `env:"RAILCART_INDEX_D1_INGEST_URL"`
	D1Token      string `env:"RAILCART_INDEX_D1_TOKEN"`
	D1FlushMS    int    `env:"RAILCART_INDEX_D1_FLUSH_MS" envDefault:"500"`
	D1BatchSize  int    `env:"RAILCART_INDEX_D1_BATCH_SIZE" envDefault:"128"`

	SampleEvery time.Duration `env:"RAILCART_METRICS_SAMPLE_EVERY" envDefault:"1m"`
}

func loadServerEnv() (serverEnv, error) {
	var cfg serverEnv
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	// Admin endpoints default on outside staging/production.
	if _, set := os.LookupEnv("RAILCART_ENABLE_ADMIN_HTTP"); !set {
		cfg.EnableAdminHTTP = defaultEnableAdminHTTP(cfg.DeployEnv)
	}
	return cfg, nil
}

func defaultEnableAdminHTTP(deployEnv string) bool {
	switch strings.ToLower(strings.TrimSpace(deployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
