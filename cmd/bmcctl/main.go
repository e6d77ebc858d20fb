// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bmcctl queries the bmfw gRPC service through server reflection.
//
//	bmcctl                       list services and their methods
//	bmcctl health [chip]         board or chip health
//	bmcctl call method [json]    invoke a fully qualified method
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
)

const (
	healthCheck = "grpc.health.v1.Health.Check"
	chipPrefix  = "bmfw.chip."
)

var (
	addr    = flag.String("addr", "[::1]:9371", "Address of the bmfw gRPC service")
	timeout = flag.Duration("timeout", 5*time.Second, "Connection and call timeout")
)

type handler struct {
	stat *status.Status
}

func (*handler) OnResolveMethod(md *desc.MethodDescriptor) {
}

func (*handler) OnSendHeaders(md metadata.MD) {
}

func (*handler) OnReceiveHeaders(md metadata.MD) {
}

func (*handler) OnReceiveResponse(resp proto.Message) {
	t := proto.MarshalTextString(resp)
	if t != "" {
		fmt.Print(t)
	}
}

func (h *handler) OnReceiveTrailers(stat *status.Status, md metadata.MD) {
	h.stat = stat
}

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// The service is only reachable from the management network and does
	// not carry credentials.
	var creds credentials.TransportCredentials
	c, err := grpcurl.BlockingDial(ctx, "tcp", *addr, creds)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *addr, err)
	}
	defer c.Close()

	refClient := grpcreflect.NewClient(ctx, reflectpb.NewServerReflectionClient(c))
	defer refClient.Reset()
	ds := grpcurl.DescriptorSourceFromServer(ctx, refClient)

	args := flag.Args()
	switch {
	case len(args) == 0:
		usage(ds)
	case args[0] == "health":
		service := ""
		if len(args) > 1 {
			service = chipPrefix + args[1]
		}
		call(ctx, ds, c, healthCheck, fmt.Sprintf(`{"service": %q}`, service))
	case args[0] == "call" && len(args) > 1:
		call(ctx, ds, c, args[1], strings.Join(args[2:], " "))
	default:
		log.Fatalf("Unknown command %q", strings.Join(args, " "))
	}
}

func call(ctx context.Context, ds grpcurl.DescriptorSource, c *grpc.ClientConn, method string, text string) {
	sent := false
	rd := func() ([]byte, error) {
		if sent || text == "" {
			return nil, io.EOF
		}
		sent = true
		return []byte(text), nil
	}
	h := &handler{}
	if err := grpcurl.InvokeRpc(ctx, ds, c, method, []string{} /* headers */, h, rd); err != nil {
		log.Fatalf("grpcurl.InvokeRpc(%s) failed: %v", method, err)
	}
	if h.stat.Code() != codes.OK {
		log.Fatalf("RPC returned error code %s: %s\n", h.stat.Code().String(), h.stat.Message())
	}
}

func usage(ds grpcurl.DescriptorSource) {
	services, err := grpcurl.ListServices(ds)
	if err != nil {
		log.Fatalf("grpcurl.ListServices failed: %v", err)
	}
	for _, svc := range services {
		methods, err := grpcurl.ListMethods(ds, svc)
		if err != nil {
			log.Fatalf("grpcurl.ListMethods(%s) failed: %v", svc, err)
		}
		for _, m := range methods {
			dsc, err := ds.FindSymbol(m)
			if err != nil {
				log.Fatalf("FindSymbol(%s) failed: %v", m, err)
			}
			mp, ok := dsc.(*desc.MethodDescriptor)
			if !ok {
				continue
			}
			fmt.Printf("Method: %v\n", m)
			fmt.Printf(" Request:\n")
			printMessage(mp.GetInputType(), 1 /* depth */)
			fmt.Printf("\n Response:\n")
			printMessage(mp.GetOutputType(), 1 /* depth */)
			fmt.Printf("\n")
		}
	}
}
