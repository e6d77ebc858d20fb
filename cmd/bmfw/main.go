// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/bmc"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/service/grpc"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "/etc/bmfw.yaml", "Board description, built-in defaults are used when missing")
	dryRun     = flag.Bool("dry-run", false, "Validate the board description and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")

	log = logger.LogContainer.GetSimpleLogger()
)

func loadConfig(fs afero.Fs, path string) (*config.Config, error) {
	if _, err := fs.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warnf("%s not found, using built-in board description", path)
		c := config.DefaultConfig.Clone()
		return c, c.Validate()
	}
	return config.Load(fs, path)
}

// run supervises the board until ctx is done. Only start-up errors end it:
// auxiliary services log and count their failures, and a lost interrupt
// monitor cold restarts the BMC.
func run(ctx context.Context, conf *config.Config) error {
	fs := afero.NewOsFs()
	board, err := bmc.OpenBoard(fs, conf)
	if err != nil {
		return fmt.Errorf("open board: %w", err)
	}
	defer board.Close()

	health := grpc.New()
	board.Health = health

	ctx, cancel := context.WithCancel(ctx)
	var services, monitors errgroup.Group
	defer services.Wait()
	defer cancel()
	if conf.MetricsAddress != "" {
		bmc.GoService(ctx, &services, "metrics", func(ctx context.Context) error {
			return bmc.ServeMetrics(ctx, conf.MetricsAddress)
		})
	}
	if conf.GrpcAddress != "" {
		bmc.GoService(ctx, &services, "grpc", func(ctx context.Context) error {
			return health.Serve(ctx, conf.GrpcAddress)
		})
	}

	loop, err := bmc.Startup(ctx, &monitors, board)
	if err != nil {
		return err
	}
	err = loop.Run(ctx)
	monitors.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	flag.Parse()
	if *debug {
		logger.LogContainer.SetLevel(zapcore.DebugLevel)
	}

	conf, err := loadConfig(afero.NewOsFs(), *configPath)
	if err != nil {
		log.Fatalf("Invalid board description: %v", err)
	}
	if *dryRun {
		fmt.Printf("Board description OK: %d chips\n", len(conf.Chips))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, conf); err != nil {
		log.Fatalf("bmfw: %v", err)
	}
}
