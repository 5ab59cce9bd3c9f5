package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/storagenode"
)

type options struct {
	Port         int           `long:"port" required:"true" description:"Port for the storage node"`
	StorageDir   string        `long:"storage-dir" required:"true" description:"Directory for stored files"`
	NodeID       string        `long:"node-id" description:"Node ID (default: node-<port>)"`
	Address      string        `long:"address" description:"Advertised base URL (default: http://localhost:<port>)"`
	NamingURL    string        `long:"naming-service" default:"http://localhost:5000" description:"Naming service base URL"`
	MaxStorageMB int64         `long:"max-storage" default:"0" description:"Storage cap in MB, 0 for unlimited"`
	Heartbeat    time.Duration `long:"heartbeat-interval" default:"10s" description:"Heartbeat interval"`
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

	if opts.NodeID == "" {
		opts.NodeID = fmt.Sprintf("node-%d", opts.Port)
	}
	if opts.Address == "" {
		opts.Address = fmt.Sprintf("http://localhost:%d", opts.Port)
	}

	node, err := storagenode.New(storagenode.Config{
		NodeID:            opts.NodeID,
		Address:           opts.Address,
		StorageDir:        opts.StorageDir,
		NamingURL:         opts.NamingURL,
		MaxStorage:        opts.MaxStorageMB * 1024 * 1024,
		HeartbeatInterval: opts.Heartbeat,
	})
	if err != nil {
		log.Fatalf("Failed to create storage node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Run(ctx, fmt.Sprintf(":%d", opts.Port)); err != nil {
		log.Fatalf("Storage node failed: %v", err)
	}
}
