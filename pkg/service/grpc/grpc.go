// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grpc exposes the health of the supervised chips over the standard
// gRPC health checking protocol.
package grpc

import (
	"context"
	"net"
	"sync"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/u-root/accel-bmc/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ChipServicePrefix prefixes the chip name to form its health service name.
const ChipServicePrefix = "bmfw.chip."

var (
	log = logger.LogContainer.GetSimpleLogger()
)

// Server reports the board as serving while every chip is healthy. Each chip
// also has its own service, named ChipServicePrefix followed by the chip
// name.
type Server struct {
	health *health.Server
	gServ  *grpc.Server

	m         sync.Mutex
	unhealthy map[string]bool
}

func New() *Server {
	s := &Server{
		health:    health.NewServer(),
		unhealthy: map[string]bool{},
	}
	s.gServ = grpc.NewServer(
		grpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	)
	healthpb.RegisterHealthServer(s.gServ, s.health)
	reflection.Register(s.gServ)
	grpc_prometheus.Register(s.gServ)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// SetChipHealth updates the status of one chip and of the board.
func (s *Server) SetChipHealth(name string, healthy bool) {
	s.m.Lock()
	defer s.m.Unlock()
	if healthy {
		delete(s.unhealthy, name)
	} else {
		s.unhealthy[name] = true
	}
	log.Debugf("Chip %s healthy: %v", name, healthy)
	s.health.SetServingStatus(ChipServicePrefix+name, servingStatus(healthy))
	s.health.SetServingStatus("", servingStatus(len(s.unhealthy) == 0))
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Infof("gRPC health service listening on %s", l.Addr())
	return s.ServeListener(ctx, l)
}

// ServeListener serves on l until ctx is done. Watchers are told the service
// is going away before the server stops.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.gServ.GracefulStop()
		case <-done:
		}
	}()
	err := s.gServ.Serve(l)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
