// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package notify

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/adscout/internal/logging"
)

const serverReadyTimeout = 30 * time.Second

// EmbeddedServer runs an in-process NATS server for single-binary
// deployments where no external broker exists.
type EmbeddedServer struct {
	ns *server.Server
}

// StartEmbeddedServer boots a NATS server on an ephemeral port and waits
// until it accepts connections.
func StartEmbeddedServer() (*EmbeddedServer, error) {
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(serverReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within %s", serverReadyTimeout)
	}

	logging.Info().Str("url", ns.ClientURL()).Msg("embedded NATS server started")
	return &EmbeddedServer{ns: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
