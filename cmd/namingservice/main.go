package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/coordinator"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/health"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/nodeclient"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/placement"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/recovery"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/registry"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/server"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/store"
)

type options struct {
	Listen          string        `long:"listen" default:":5000" description:"HTTP service address"`
	DataDir         string        `long:"data" default:"./data" description:"Directory for the metadata database"`
	MaxFileSizeMB   int64         `long:"max-file-size" default:"100" description:"Maximum upload size in MB"`
	SpaceBufferMB   int64         `long:"space-buffer" default:"0" description:"Extra free space required per node in MB"`
	HealthInterval  time.Duration `long:"health-interval" default:"30s" description:"Health sweep interval"`
	LivenessTimeout time.Duration `long:"liveness-timeout" default:"30s" description:"Heartbeat staleness before a node is marked inactive"`
	PendingTTL      time.Duration `long:"pending-ttl" default:"15m" description:"How long an unconfirmed reservation survives"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenLevelStore(filepath.Join(opts.DataDir, "metadata"))
	if err != nil {
		log.Fatalf("Failed to open metadata store: %v", err)
	}
	defer st.Close()

	nodes := nodeclient.New()
	eng := recovery.NewEngine(st, nodes, recovery.DefaultConfig())

	reg := registry.New(st, opts.LivenessTimeout)
	reg.SetRecoveryTrigger(eng)

	coord := coordinator.New(st, placement.MostAvailable{}, nodes, coordinator.Config{
		MaxFileSize: opts.MaxFileSizeMB * 1024 * 1024,
		SpaceBuffer: opts.SpaceBufferMB * 1024 * 1024,
	})

	monCfg := health.DefaultConfig()
	monCfg.Interval = opts.HealthInterval
	monCfg.PendingTTL = opts.PendingTTL
	mon := health.NewMonitor(st, nodes, eng, monCfg)

	go reg.Run(ctx)
	go eng.Run(ctx)
	go mon.Run(ctx)

	srv := server.NewServer(reg, coord)
	httpSrv := &http.Server{Addr: opts.Listen, Handler: srv.Router()}
	go func() {
		<-ctx.Done()
		log.Println("Received shutdown signal, stopping naming service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting naming service on %s (data: %s)", opts.Listen, opts.DataDir)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
