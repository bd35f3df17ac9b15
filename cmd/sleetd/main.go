// Command sleetd is the sovereign agent execution runtime's server entry
// point — the single binary that replaces every teacher CLI tool
// (mag/bootstrap/procyon/tt/convert-syntax/libtrashtalk), none of which
// has any equivalent concern in this runtime. Grounded on
// cmd/mag/main.go's top-to-bottom "parse flags, construct subsystems,
// wire them, run" shape: flag.String/flag.Int for configuration
// overrides, a single linear wiring sequence, os.Exit(1) on fatal setup
// errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/config"
	"github.com/thinksystem/sleet/ffi"
	"github.com/thinksystem/sleet/httpapi"
	"github.com/thinksystem/sleet/jit"
	"github.com/thinksystem/sleet/orchestrator"
	"github.com/thinksystem/sleet/pipeline"
	"github.com/thinksystem/sleet/policygate"
	"github.com/thinksystem/sleet/profiler"
	"github.com/thinksystem/sleet/storage"

	"github.com/redis/go-redis/v9"
)

func main() {
	dir := flag.String("config-dir", ".", "directory to search for sleet.toml")
	addr := flag.String("addr", "", "override server.addr from sleet.toml")
	mintToken := flag.String("mint-token", "", "print a bearer token for the given tenant and exit, instead of serving")
	mintQuota := flag.Int("mint-quota", 0, "quota claim for -mint-token")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.FindAndLoad(*dir)
	if err != nil {
		slog.Error("loading sleet.toml", "error", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	if *mintToken != "" {
		tok, err := httpapi.MintToken([]byte(cfg.Auth.SigningKey), *mintToken, *mintQuota, time.Duration(cfg.Auth.TokenTTLMins)*time.Minute)
		if err != nil {
			slog.Error("minting token", "error", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	reg := bytecode.NewRegistry()
	ffi.Register(reg)

	var store *storage.Store
	if cfg.Storage.DSN != "" {
		store, err = storage.Open(cfg.Storage.DSN)
		if err != nil {
			slog.Error("opening storage", "dsn", cfg.Storage.DSN, "error", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	bundleStore := policygate.NewBundleStore()
	defaultBundle := cfg.PolicyBundle("default")
	if err := bundleStore.Register(defaultBundle); err != nil {
		slog.Error("registering default policy bundle", "error", err)
		os.Exit(1)
	}
	if err := bundleStore.Transition("default", policygate.StageStaging); err != nil {
		slog.Error("staging default policy bundle", "error", err)
		os.Exit(1)
	}
	if err := bundleStore.Transition("default", policygate.StageShadow); err != nil {
		slog.Error("shadowing default policy bundle", "error", err)
		os.Exit(1)
	}
	if err := bundleStore.PromoteActive("default", []string{"sleetd-bootstrap"}); err != nil {
		slog.Error("activating default policy bundle", "error", err)
		os.Exit(1)
	}

	gate := policygate.NewGate(defaultBundle).WithBundleStore(bundleStore).WithSigners([]string{"sleetd-bootstrap"})

	scheduler := orchestrator.NewScheduler(cfg.Orchestrator.MaxConcurrent, cfg.Orchestrator.TenantQuota)
	gate.Subscribe(scheduler.OnSignal)

	pipeCfg, err := cfg.PipelineConfig()
	if err != nil {
		slog.Error("configuring pipeline", "error", err)
		os.Exit(1)
	}
	var mirror pipeline.Mirror
	if cfg.Pipeline.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Pipeline.RedisAddr})
		mirror = pipeline.NewRedisMirror(client, cfg.Pipeline.RedisStream)
	}
	var pipelineGate *policygate.Gate
	if cfg.Pipeline.ConsultPolicyGate {
		pipelineGate = gate
	}
	pipe := pipeline.New(pipeCfg, pipelineGate, mirror)

	prof := profiler.NewProfiler(profiler.DefaultPolicy())
	jitc := jit.NewCompiler(prof)
	jitc.Start()
	defer jitc.Stop()

	coord := orchestrator.New(cfg.OrchestratorConfig(), reg, scheduler, pipe)
	defer coord.Stop()
	coord.WithHybridExecution(prof, jitc)
	if store != nil {
		coord.WithStore(store)
	}
	gate.Subscribe(coord.OnFlowControlSignal)

	decayStop := startDecaySweep(prof, 30*time.Second)
	defer close(decayStop)

	consumeStop := startPolicyConsume(pipe, gate, coord, 64, time.Second)
	defer close(consumeStop)

	srv := httpapi.New(cfg, coord, reg, store)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("sleetd listening", "addr", cfg.Server.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("server exited", "error", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		slog.Info("shutting down")
	}
}

// startPolicyConsume runs the Policy Gate's consumption step (spec §4.8) on
// a fixed interval: drain up to perTenant queued intents from every
// tenant's pipeline shard in priority-then-FIFO order, validate each
// against gate, and fan the resulting CommitReceipts out as
// CommitReceiptDelivered events. Follows the same bounded ticker-goroutine
// shape as startDecaySweep.
func startPolicyConsume(pipe *pipeline.Pipeline, gate *policygate.Gate, coord *orchestrator.Coordinator, perTenant int, interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				receipts := pipe.Consume(gate, perTenant)
				if len(receipts) > 0 {
					coord.DeliverCommitReceipts(receipts)
				}
			}
		}
	}()
	return stop
}

// startDecaySweep runs profiler.DecaySweep on a fixed interval until the
// returned channel is closed, following the bounded ticker-goroutine shape
// jit.Compiler.worker uses for its own idle-eviction sweep.
func startDecaySweep(prof *profiler.Profiler, interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				prof.DecaySweep()
			}
		}
	}()
	return stop
}
