// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/mrtchat/client"
	"github.com/sage-x-project/mrtchat/internal/logger"
	"github.com/sage-x-project/mrtchat/internal/metrics"
	"github.com/sage-x-project/mrtchat/kv"
	"github.com/sage-x-project/mrtchat/kv/memkv"
	"github.com/sage-x-project/mrtchat/kv/pgkv"
	"github.com/sage-x-project/mrtchat/transport/wsloop"
	"github.com/sage-x-project/mrtchat/trust"
)

var (
	metricsAddr string
	postgresDSN string
	autoAccept  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a chat node until interrupted",
	Long: `Run a chat node: join the room topic, accept peer connections under
the configured trust mode, and log chat traffic and trust decisions
until interrupted.

With --postgres the node shares its instance slots and known-host
records with sibling processes through a Postgres-backed store;
otherwise state is kept in memory and lost on exit.`,
	Example: `  # Run with defaults against the public broker
  mrtchat serve

  # Run with a config file, exposing Prometheus metrics
  mrtchat serve --config mrtchat.yaml --metrics :9100

  # Share instance slots across processes
  mrtchat serve --postgres postgres://localhost/mrtchat`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&metricsAddr, "metrics", "", "Prometheus metrics listen address (disabled when empty)")
	serveCmd.Flags().StringVar(&postgresDSN, "postgres", "", "Postgres DSN for shared slot/identity state")
	serveCmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "Accept every connection request without prompting")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if autoAccept {
		cfg.Connection.AutoAcceptConnections = true
	}

	log := logger.NewDefaultLogger()
	if cfg.Debug {
		log.SetLevel(logger.DebugLevel)
	}

	store, cleanup, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	c, err := client.New(ctx, client.Options{
		Config:  cfg,
		KV:      store,
		Factory: wsloop.Factory(),
		Log:     log,
		ConnectionRequest: func(_ context.Context, peer string, info trust.PeerInfo) bool {
			log.Info("connection request",
				logger.String("peer", peer),
				logger.String("category", string(info.Category)))
			return false
		},
	})
	if err != nil {
		return err
	}

	c.On(client.EventConnectedToPeer, func(ev client.Event) {
		log.Info("peer connected", logger.String("peer", ev.Peer))
	})
	c.On(client.EventDisconnectedPeer, func(ev client.Event) {
		log.Info("peer disconnected", logger.String("peer", ev.Peer))
	})
	c.On(client.EventChat, func(ev client.Event) {
		log.Info("chat", logger.String("peer", ev.Peer), logger.Any("data", ev.Data))
	})
	c.On(client.EventValidation, func(ev client.Event) {
		log.Info("peer validated", logger.String("peer", ev.Peer), logger.Any("trusted", ev.Data))
	})
	c.On(client.EventValidationFailure, func(ev client.Event) {
		log.Warn("peer validation failed", logger.String("peer", ev.Peer), logger.Any("error", ev.Data))
	})

	if metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(metricsAddr, metrics.Handler()); err != nil {
				log.Warn("metrics server stopped", logger.Error(err))
			}
		}()
	}

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	log.Info("node running", logger.String("name", c.Name()), logger.Int("slot", c.Slot()))

	<-ctx.Done()
	c.Disconnect()
	return nil
}

// openStore picks the shared Postgres store when --postgres is given,
// the in-memory store otherwise.
func openStore(ctx context.Context) (kv.Store, func(), error) {
	if postgresDSN == "" {
		return memkv.New(), func() {}, nil
	}
	store, err := pgkv.NewFromDSN(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	return store, func() { store.Close() }, nil
}
