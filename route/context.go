package route

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fxsml/goroute/component/direct"
	logcomponent "github.com/fxsml/goroute/component/log"
	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/pool"
	"github.com/fxsml/goroute/processor"
	"github.com/fxsml/goroute/seda"
)

var (
	// ErrInvalidRoute is returned for route definitions that cannot be built.
	ErrInvalidRoute = errors.New("route: invalid route")
	// ErrDuplicateRoute is returned when a route id is already in use.
	ErrDuplicateRoute = errors.New("route: duplicate route id")
	// ErrNoComponent is returned for endpoint URIs with an unregistered scheme.
	ErrNoComponent = errors.New("route: no component for scheme")
	// ErrComponentExists is returned when a scheme is registered twice.
	ErrComponentExists = errors.New("route: component already registered")
	// ErrNoRoute is returned for unknown route ids.
	ErrNoRoute = errors.New("route: no such route")
	// ErrAlreadyStarted is returned by Start on a running context.
	ErrAlreadyStarted = errors.New("route: context already started")
	// ErrStopped is returned by a context that was stopped. A stopped
	// context cannot be started again.
	ErrStopped = errors.New("route: context stopped")
)

// Status is the lifecycle state of a route.
type Status int32

const (
	// StatusStopped is a route whose consumer does not run.
	StatusStopped Status = iota
	// StatusStarted is a route whose consumer feeds exchanges into it.
	StatusStarted
)

// String implements fmt.Stringer.
func (s Status) String() string {
	if s == StatusStarted {
		return "Started"
	}
	return "Stopped"
}

// Route is a route added to a Context.
type Route struct {
	id       string
	from     string
	consumer endpoint.Consumer
	services []endpoint.Service
	status   atomic.Int32
}

// ID returns the route id.
func (r *Route) ID() string { return r.id }

// From returns the normalized URI the route consumes from.
func (r *Route) From() string { return r.from }

// Status returns the lifecycle state.
func (r *Route) Status() Status { return Status(r.status.Load()) }

// Context owns components, endpoints, routes and the thread-pool manager.
type Context struct {
	cfg     Config
	manager *pool.Manager

	// adding serializes AddRoutes.
	adding sync.Mutex

	mu         sync.Mutex
	components map[string]endpoint.Component
	endpoints  map[string]endpoint.Endpoint
	producers  map[string]endpoint.Producer
	routes     []*Route
	byID       map[string]*Route
	seq        int
	started    bool
	stopped    bool
}

// NewContext creates a context with the direct, seda and log components
// registered.
func NewContext(cfg Config) *Context {
	cfg = cfg.parse()
	manager := pool.NewManager(pool.Config{Logger: cfg.Logger})
	return &Context{
		cfg:     cfg,
		manager: manager,
		components: map[string]endpoint.Component{
			direct.Scheme:       direct.NewComponent(direct.Config{Logger: cfg.Logger}),
			seda.Scheme:         seda.NewComponent(manager, cfg.Seda),
			logcomponent.Scheme: logcomponent.NewComponent(logcomponent.Config{Logger: cfg.Logger}),
		},
		endpoints: make(map[string]endpoint.Endpoint),
		producers: make(map[string]endpoint.Producer),
		byID:      make(map[string]*Route),
	}
}

// Name returns the context name.
func (c *Context) Name() string { return c.cfg.Name }

// Manager returns the thread-pool manager.
func (c *Context) Manager() *pool.Manager { return c.manager }

// AddComponent registers comp for scheme.
func (c *Context) AddComponent(scheme string, comp endpoint.Component) error {
	scheme = strings.ToLower(scheme)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.components[scheme]; ok {
		return fmt.Errorf("%w: %s", ErrComponentExists, scheme)
	}
	c.components[scheme] = comp
	return nil
}

// Component returns the component registered for scheme.
func (c *Context) Component(scheme string) (endpoint.Component, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	comp, ok := c.components[strings.ToLower(scheme)]
	return comp, ok
}

// Endpoint resolves uri. Singleton endpoints are created once per
// normalized URI. Errors are of kind exchange.KindConfiguration.
func (c *Context) Endpoint(uri string) (endpoint.Endpoint, error) {
	u, err := endpoint.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	key := u.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if ep, ok := c.endpoints[key]; ok {
		return ep, nil
	}
	comp, ok := c.components[u.Scheme]
	if !ok {
		return nil, exchange.Configuration(fmt.Errorf("%w: %s", ErrNoComponent, uri))
	}
	ep, err := comp.CreateEndpoint(u)
	if err != nil {
		return nil, configuration(fmt.Errorf("route: resolve %s: %w", uri, err))
	}
	if ep.Singleton() {
		c.endpoints[key] = ep
	}
	return ep, nil
}

// Endpoints returns the URIs of the registered singleton endpoints in sorted order.
func (c *Context) Endpoints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	uris := make([]string, 0, len(c.endpoints))
	for uri := range c.endpoints {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// AddRoutes builds and adds routes. If any definition is invalid, an error
// of kind exchange.KindConfiguration is returned and no route is added.
// Routes added to a started context are started immediately.
func (c *Context) AddRoutes(defs ...*Definition) error {
	c.adding.Lock()
	defer c.adding.Unlock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	ids, seq, err := c.reserveIDs(defs)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	routes := make([]*Route, 0, len(defs))
	for i, def := range defs {
		r, err := c.build(def, ids[i])
		if err != nil {
			releaseRoutes(routes)
			return err
		}
		routes = append(routes, r)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		releaseRoutes(routes)
		return ErrStopped
	}
	c.seq = seq
	for _, r := range routes {
		c.routes = append(c.routes, r)
		c.byID[r.id] = r
	}
	started := c.started
	c.mu.Unlock()

	for _, r := range routes {
		c.cfg.Logger.Debug("Route added", "route", r.id, "from", r.from)
	}
	if !started {
		return nil
	}
	for _, r := range routes {
		if err := c.startRoute(context.Background(), r); err != nil {
			return err
		}
	}
	return nil
}

// releaseRoutes undoes the consumers of routes that were built but not added.
func releaseRoutes(routes []*Route) {
	for _, r := range routes {
		endpoint.Release(r.consumer)
	}
}

// reserveIDs returns the ids of defs and the sequence to commit once they are
// added. Must be called with mu held.
func (c *Context) reserveIDs(defs []*Definition) ([]string, int, error) {
	ids := make([]string, len(defs))
	seen := make(map[string]bool, len(defs))
	seq := c.seq
	for i, def := range defs {
		if def == nil {
			return nil, 0, exchange.Configuration(fmt.Errorf("%w: nil definition", ErrInvalidRoute))
		}
		id := def.id
		if id == "" {
			seq++
			id = "route" + strconv.Itoa(seq)
		}
		if _, ok := c.byID[id]; ok || seen[id] {
			return nil, 0, exchange.Configuration(fmt.Errorf("%w: %s", ErrDuplicateRoute, id))
		}
		seen[id] = true
		ids[i] = id
	}
	return ids, seq, nil
}

func (c *Context) build(def *Definition, id string) (*Route, error) {
	if def.from == "" {
		return nil, exchange.Configuration(fmt.Errorf("%w: route %s consumes from no endpoint", ErrInvalidRoute, id))
	}
	b := &builder{ctx: c, route: id}

	steps, err := b.pipeline(def.steps)
	if err != nil {
		return nil, configuration(fmt.Errorf("route %s: %w", id, err))
	}
	eh := c.cfg.ErrorHandler
	if def.errorHandler != nil {
		eh = *def.errorHandler
	}
	p, err := b.errorHandler(eh, steps)
	if err != nil {
		return nil, configuration(fmt.Errorf("route %s: %w", id, err))
	}
	for i := len(c.cfg.Interceptors) - 1; i >= 0; i-- {
		p = c.cfg.Interceptors[i](id, p)
	}
	entry := processor.UnitOfWork(markRoute(id, p))

	from, err := c.Endpoint(def.from)
	if err != nil {
		return nil, configuration(fmt.Errorf("route %s: %w", id, err))
	}
	consumer, err := from.CreateConsumer(entry)
	if err != nil {
		return nil, configuration(fmt.Errorf("route %s: consume from %s: %w", id, from.URI(), err))
	}
	return &Route{id: id, from: from.URI(), consumer: consumer, services: b.services}, nil
}

// markRoute records the first route an exchange entered.
func markRoute(id string, next processor.Processor) processor.Processor {
	return processor.AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, done processor.DoneFunc) bool {
		if _, ok := ex.Property(exchange.PropertyFromRoute); !ok {
			ex.SetProperty(exchange.PropertyFromRoute, id)
		}
		return next.Process(ctx, ex, done)
	})
}

// configuration classifies err as a configuration error unless it already
// carries a kind.
func configuration(err error) error {
	if exchange.KindOf(err) != exchange.KindUnknown {
		return err
	}
	return exchange.Configuration(err)
}

// Routes returns the routes in the order they were added.
func (c *Context) Routes() []*Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Route(nil), c.routes...)
}

// Route returns the route with the given id.
func (c *Context) Route(id string) (*Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.byID[id]
	return r, ok
}

// Start starts all routes in the order they were added. If a route fails to
// start, the routes started so far are stopped in reverse order.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	routes := append([]*Route(nil), c.routes...)
	c.mu.Unlock()

	for i, r := range routes {
		if err := c.startRoute(ctx, r); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = c.stopRoute(ctx, routes[j])
			}
			c.mu.Lock()
			c.started = false
			c.mu.Unlock()
			return err
		}
	}
	c.cfg.Logger.Info("Routing context started", "context", c.cfg.Name, "routes", len(routes))
	return nil
}

// Stop stops all routes in reverse order, then the template producers, then
// the thread-pool manager. Pending redeliveries fail with a ShutdownForced
// error. If ctx has no deadline, Config.ShutdownTimeout applies.
func (c *Context) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	routes := append([]*Route(nil), c.routes...)
	producers := make([]endpoint.Producer, 0, len(c.producers))
	for _, p := range c.producers {
		producers = append(producers, p)
	}
	c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	for i := len(routes) - 1; i >= 0; i-- {
		if err := c.stopRoute(ctx, routes[i]); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range producers {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("route: shutdown pools: %w", err))
	}
	c.cfg.Logger.Info("Routing context stopped", "context", c.cfg.Name)
	return errors.Join(errs...)
}

// StartRoute starts a stopped route.
func (c *Context) StartRoute(ctx context.Context, id string) error {
	r, ok := c.Route(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, id)
	}
	return c.startRoute(ctx, r)
}

// StopRoute stops a started route.
func (c *Context) StopRoute(ctx context.Context, id string) error {
	r, ok := c.Route(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, id)
	}
	return c.stopRoute(ctx, r)
}

func (c *Context) startRoute(ctx context.Context, r *Route) error {
	if !r.status.CompareAndSwap(int32(StatusStopped), int32(StatusStarted)) {
		return nil
	}
	for i, s := range r.services {
		if err := s.Start(ctx); err != nil {
			stopServices(ctx, r.services[:i])
			r.status.Store(int32(StatusStopped))
			return fmt.Errorf("route %s: start producer: %w", r.id, err)
		}
	}
	if err := r.consumer.Start(ctx); err != nil {
		stopServices(ctx, r.services)
		r.status.Store(int32(StatusStopped))
		return fmt.Errorf("route %s: start consumer %s: %w", r.id, r.from, err)
	}
	c.cfg.Logger.Info("Route started", "route", r.id, "from", r.from)
	return nil
}

func (c *Context) stopRoute(ctx context.Context, r *Route) error {
	if !r.status.CompareAndSwap(int32(StatusStarted), int32(StatusStopped)) {
		return nil
	}
	var errs []error
	if err := r.consumer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("route %s: stop consumer %s: %w", r.id, r.from, err))
	}
	errs = append(errs, stopServices(ctx, r.services))
	c.cfg.Logger.Info("Route stopped", "route", r.id, "from", r.from)
	return errors.Join(errs...)
}

func stopServices(ctx context.Context, services []endpoint.Service) error {
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
