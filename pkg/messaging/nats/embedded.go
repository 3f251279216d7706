package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps an embedded NATS server for testing.
type EmbeddedServer struct {
	server *server.Server
	url    string
}

// StartEmbeddedServer starts an embedded NATS server with JetStream enabled.
func StartEmbeddedServer() (*EmbeddedServer, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		JetStream: true,
		StoreDir:  "", // Use temp directory
	}

	s, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded server: %w", err)
	}

	go s.Start()

	if !s.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("server not ready")
	}

	return &EmbeddedServer{
		server: s,
		url:    s.ClientURL(),
	}, nil
}

// URL returns the connection URL for the embedded server.
func (e *EmbeddedServer) URL() string {
	return e.url
}

// Shutdown stops the embedded server.
func (e *EmbeddedServer) Shutdown() {
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}
}

// NewEmbeddedEventBus starts an embedded server and creates an event bus
// connected to it. Convenience function for testing.
func NewEmbeddedEventBus() (*EventBus, *EmbeddedServer, error) {
	srv, err := StartEmbeddedServer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded server: %w", err)
	}

	config := TestConfig(srv.URL())

	bus, err := NewEventBus(config)
	if err != nil {
		srv.Shutdown()
		return nil, nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	return bus, srv, nil
}

// TestConfig returns a config suitable for testing with embedded NATS.
func TestConfig(serverURL string) Config {
	return Config{
		URL:            serverURL,
		StreamName:     "TEST_ORDER_EVENTS",
		StreamSubjects: []string{"events.>"},
		MaxAge:         time.Minute,
		MaxBytes:       10 * 1024 * 1024, // 10 MB
	}
}
