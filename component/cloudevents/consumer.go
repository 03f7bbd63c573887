package cloudevents

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/cloudevents/sdk-go/v2/binding"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
)

// CreateConsumer implements endpoint.Endpoint.
func (e *Endpoint) CreateConsumer(p processor.Processor) (endpoint.Consumer, error) {
	return &Consumer{endpoint: e, processor: processor.UnitOfWork(p)}, nil
}

// Consumer serves events over HTTP.
type Consumer struct {
	endpoint  *Endpoint
	processor processor.Processor

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Start listens on the endpoint address.
func (c *Consumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return nil
	}
	ln, err := net.Listen("tcp", c.endpoint.addr)
	if err != nil {
		return fmt.Errorf("cloudevents: listen %s: %w", c.endpoint.addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(c.endpoint.path, c)
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: c.endpoint.cfg.ReadTimeout}
	c.listener = ln

	go func(s *http.Server) {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.endpoint.cfg.Logger.Error("CloudEvents server failed", "addr", ln.Addr().String(), "error", err)
		}
	}(c.server)
	c.endpoint.cfg.Logger.Info("CloudEvents consumer started", "addr", ln.Addr().String(), "path", c.endpoint.path)
	return nil
}

// Addr returns the listening address, or "" when stopped.
func (c *Consumer) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop shuts the server down, waiting for running requests until ctx ends.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server == nil {
		return nil
	}
	err := c.server.Shutdown(ctx)
	c.server, c.listener = nil, nil
	return err
}

// ServeHTTP runs one event through the route.
func (c *Consumer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := c.endpoint.cfg.Logger
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ev, err := cehttp.NewEventFromHTTPRequest(r)
	if err != nil {
		log.Warn("Rejecting invalid CloudEvent", "path", r.URL.Path, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ex := exchange.New(exchange.InOut, toMessage(ev))
	ex.SetProperty(exchange.PropertyFromEndpoint, c.endpoint.uri)
	if err := processor.Run(r.Context(), c.processor, ex); err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	if !ex.HasOut() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	reply, err := c.endpoint.toEvent(exchange.NewID(), ex.Out())
	if err != nil {
		log.Error("Failed to build reply event", "exchangeId", ex.ID(), "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := cehttp.WriteResponseWriter(r.Context(), binding.ToMessage(reply), http.StatusOK, w); err != nil {
		log.Error("Failed to write reply event", "exchangeId", ex.ID(), "error", err)
	}
}

func statusOf(err error) int {
	switch exchange.KindOf(err) {
	case exchange.KindPermanent, exchange.KindConfiguration:
		return http.StatusUnprocessableEntity
	case exchange.KindTransient, exchange.KindShutdownForced:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
