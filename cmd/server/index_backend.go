package main

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"railcart.ai/internal/persistence/indexdb"
	"railcart.ai/internal/sim/lifecycle"
	"railcart.ai/internal/sim/tuning"
)

type ownershipIndex interface {
	lifecycle.Journal
	UpsertTuning(tune tuning.Tuning) error
	Close() error
}

func openOwnershipIndex(worldDir, worldID string, disableDB bool, cfg serverEnv, logger *log.Logger) (ownershipIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.IndexBackend))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(worldDir, "index", "ownership.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "d1":
		endpoint := strings.TrimSpace(cfg.D1IngestURL)
		if endpoint == "" {
			return nil, fmt.Errorf("RAILCART_INDEX_BACKEND=d1 but RAILCART_INDEX_D1_INGEST_URL is empty")
		}
		idx, err := indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(cfg.D1Token),
			WorldID:       worldID,
			BatchSize:     cfg.D1BatchSize,
			FlushInterval: time.Duration(cfg.D1FlushMS) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported RAILCART_INDEX_BACKEND: %s", backend)
	}
}
