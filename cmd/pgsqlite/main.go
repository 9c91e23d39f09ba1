// Copyright 2025 The pgsqlite Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pgsqlite/pgsqlite/internal/catalog"
	"github.com/pgsqlite/pgsqlite/internal/config"
	"github.com/pgsqlite/pgsqlite/internal/engine"
	"github.com/pgsqlite/pgsqlite/internal/functions"
	"github.com/pgsqlite/pgsqlite/internal/metrics"
	"github.com/pgsqlite/pgsqlite/internal/wire"
)

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		logrus.Fatalln("Failed to parse flags:", err)
	}

	logrus.SetLevel(cfg.LogLevel)
	log := logrus.WithField("component", "pgsqlite")

	engine.AddConnectHook(functions.Register)

	eng, err := engine.Open(engine.Options{
		Database:    cfg.Database,
		InMemory:    cfg.InMemory,
		JournalMode: cfg.JournalMode,
		Synchronous: cfg.Synchronous,
		UsePooling:  cfg.UsePooling,
	}, log)
	if err != nil {
		logrus.Fatalln("Failed to open the database:", err)
	}
	defer eng.Close()

	cat, err := catalog.New(eng.DB)
	if err != nil {
		logrus.Fatalln("Failed to bootstrap the catalog:", err)
	}

	var tlsCfg wire.TLSConfig
	if cfg.SSL {
		tlsCfg, err = wire.LoadTLSConfig(cfg.SSLCert, cfg.SSLKey)
		if err != nil {
			logrus.Fatalln("Failed to load the TLS certificate:", err)
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	server := wire.NewServer(eng.DB, cat, m, tlsCfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Start(fmt.Sprintf("%s:%d", cfg.Address, cfg.Port))
	})
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Address, cfg.MetricsPort),
			Handler: mux,
		}
		group.Go(func() error {
			err := metricsSrv.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})
		group.Go(func() error {
			<-ctx.Done()
			return metricsSrv.Close()
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		return server.Close()
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logrus.Fatalln("Server exited with error:", err)
	}
}
