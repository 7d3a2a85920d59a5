package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	persistlog "railcart.ai/internal/persistence/log"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/lifecycle"
	"railcart.ai/internal/sim/railcart"
	"railcart.ai/internal/sim/tuning"
	"railcart.ai/internal/sim/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configPath = flag.String("config", "./plugins/railcart/config.yaml", "config.yaml path (written with defaults when missing)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the ownership index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	senv, err := loadServerEnv()
	if err != nil {
		logger.Fatalf("load env: %v", err)
	}

	if wrote, err := tuning.WriteDefault(*configPath); err != nil {
		logger.Fatalf("write default config: %v", err)
	} else if wrote {
		logger.Printf("wrote default config to %s", *configPath)
	}
	tune, err := tuning.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	// Optional: queryable index of ownership events.
	idx, err := openOwnershipIndex(worldDir, *worldID, *disableDB, senv, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	w, err := world.New(world.WorldConfig{
		ID:                 *worldID,
		TickRateHz:         tune.TickRateHz,
		PacketInterception: tune.PacketInterception,
		PermissionNode:     tune.PermissionNode,
		Permissions:        tune.Permissions,
		Track:              tune.Track,
	}, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	ownershipLog := persistlog.NewOwnershipLogger(worldDir)
	defer ownershipLog.Close()
	journal := lifecycle.Journals{ownershipLog}
	if idx != nil {
		journal = append(journal, idx)
	}

	interceptor := w.Interceptor()
	if interceptor == nil {
		logger.Printf("packet interception disabled; using interact events only")
	}
	svc := railcart.Enable(railcart.Host{
		World:       w,
		Bus:         w,
		Interceptor: interceptor,
		Permissions: w,
		Messages:    tune,
		Scheduler:   w.Scheduler(),
	}, railcart.Options{
		Capability: host.CapabilityUseRail,
		Verbose:    tune.Debug,
		Logger:     log.New(os.Stdout, "[railcart] ", log.LstdFlags|log.Lmicroseconds),
		Journal:    journal,
	})

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	samples := persistlog.NewSampleLogger(worldDir)
	defer samples.Close()
	go sampleMetrics(ctx, senv.SampleEvery, w, svc, samples, logger)

	a := &app{worldID: *worldID, world: w, svc: svc, index: idx, log: logger}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           a.routes(senv),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// The tick loop has stopped; release every owned minecart before the
	// journals close.
	<-worldDone
	svc.Disable()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

type metricsSample struct {
	Time    time.Time          `json:"time"`
	World   world.WorldMetrics `json:"world"`
	Service railcart.Metrics   `json:"railcart"`
}

type sampleWriter interface {
	WriteSample(v any) error
}

// sampleMetrics journals a metrics snapshot every interval until ctx ends.
func sampleMetrics(ctx context.Context, every time.Duration, w *world.World, svc *railcart.Service, out sampleWriter, logger *log.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s := metricsSample{Time: now.UTC(), World: w.Metrics(), Service: svc.Metrics()}
			if err := out.WriteSample(s); err != nil {
				logger.Printf("metrics sample: %v", err)
			}
		}
	}
}
