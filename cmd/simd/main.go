package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/host"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/tuning"
	"github.com/kmorrisongr/rustcraft-sub000/internal/transport/ws"
)

func main() {
	var (
		tuningPath  = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		addr        = flag.String("addr", "", "http listen address (overrides tuning)")
		dataDir     = flag.String("data", "", "runtime data directory (overrides tuning)")
		seed        = flag.Int64("seed", 0, "world seed (overrides tuning, fresh worlds only)")
		enablePprof = flag.Bool("pprof", false, "serve pprof endpoints")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[simd] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune.ApplyDefaults()
	}
	if strings.TrimSpace(*addr) != "" {
		tune.ListenAddr = *addr
	}
	if strings.TrimSpace(*dataDir) != "" {
		tune.DataDir = *dataDir
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	h, err := host.New(tune, logger)
	if err != nil {
		logger.Fatalf("host: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := h.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("host stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		s := h.Stats()
		id := h.ID()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP water_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE water_world_tick gauge\n")
		fmt.Fprintf(rw, "water_world_tick{world=%q} %d\n", id, s.Tick)

		fmt.Fprintf(rw, "# HELP water_cells Occupied water cells.\n")
		fmt.Fprintf(rw, "# TYPE water_cells gauge\n")
		fmt.Fprintf(rw, "water_cells{world=%q} %d\n", id, s.Cells)

		fmt.Fprintf(rw, "# HELP water_regions Connected water regions.\n")
		fmt.Fprintf(rw, "# TYPE water_regions gauge\n")
		fmt.Fprintf(rw, "water_regions{world=%q} %d\n", id, s.Regions)

		fmt.Fprintf(rw, "# HELP water_awake_patches Surface patches currently simulating.\n")
		fmt.Fprintf(rw, "# TYPE water_awake_patches gauge\n")
		fmt.Fprintf(rw, "water_awake_patches{world=%q} %d\n", id, s.AwakePatches)

		fmt.Fprintf(rw, "# HELP water_total_volume Sum of all cell volumes.\n")
		fmt.Fprintf(rw, "# TYPE water_total_volume gauge\n")
		fmt.Fprintf(rw, "water_total_volume{world=%q} %g\n", id, s.TotalVolume)

		fmt.Fprintf(rw, "# HELP water_moved_volume Volume moved in the last tick.\n")
		fmt.Fprintf(rw, "# TYPE water_moved_volume gauge\n")
		fmt.Fprintf(rw, "water_moved_volume{world=%q} %g\n", id, s.MovedVolume)

		fmt.Fprintf(rw, "# HELP water_lost_volume Volume lost in the last tick via sanctioned exceptions.\n")
		fmt.Fprintf(rw, "# TYPE water_lost_volume gauge\n")
		fmt.Fprintf(rw, "water_lost_volume{world=%q} %g\n", id, s.LostVolume)
	})
	if *enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(h, logger).Handler())

	srv := &http.Server{
		Addr:              tune.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("world %s listening on %s", h.ID(), tune.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
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
