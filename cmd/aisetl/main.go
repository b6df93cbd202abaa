// Command aisetl is the ETL web-server runtime's process entrypoint:
// it turns ETL_CLASS_PAYLOAD and the rest of the process environment
// into a running server and serves until the pod is terminated.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NVIDIA/ais-etl-go/bootstrap"
	"github.com/NVIDIA/ais-etl-go/etlsrv"
	"github.com/NVIDIA/ais-etl-go/internal/nlog"
)

var (
	variant   string
	fqnPrefix string
)

func init() {
	flag.StringVar(&variant, "variant", string(etlsrv.Blocking), "server variant: blocking, async, or wsgi")
	flag.StringVar(&fqnPrefix, "fqn-allowed-prefix", "", "mountpath prefix fqn arg_type is restricted to")
}

func main() {
	flag.Parse()

	srv := bootstrap.Run(etlsrv.Variant(variant), fqnPrefix)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			nlog.Errorf("aisetl: server exited: %v\n", err)
			os.Exit(1)
		}
	case sig := <-sigc:
		nlog.Infof("aisetl: received %s, shutting down\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			nlog.Errorf("aisetl: shutdown: %v\n", err)
			os.Exit(1)
		}
	}
}
