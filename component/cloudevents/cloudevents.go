// Package cloudevents exchanges CloudEvents over HTTP.
//
// URIs have the form
//
//	cloudevents:host:port/path?type=com.example.order&source=/orders
//
// A consumer serves POST requests on host:port/path. Each event becomes an
// InOut exchange; the HTTP response is sent once the exchange's Unit of Work
// completed: 200 with a reply event if the route set an Out message, 202
// without body otherwise, and an error status for failed exchanges.
//
// A producer sends the In message as an event to http://host:port/path. For
// InOut exchanges a reply event becomes the Out message.
package cloudevents

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
)

// Scheme is the URI scheme of the component.
const Scheme = "cloudevents"

// Headers mapped to and from event attributes. Extensions use
// HeaderPrefix followed by the extension name.
const (
	HeaderPrefix      = "cloudevents."
	HeaderID          = HeaderPrefix + "id"
	HeaderType        = HeaderPrefix + "type"
	HeaderSource      = HeaderPrefix + "source"
	HeaderSubject     = HeaderPrefix + "subject"
	HeaderTime        = HeaderPrefix + "time"
	HeaderContentType = "Content-Type"
)

// Defaults of the type and source options.
const (
	DefaultType   = "goroute.exchange"
	DefaultSource = "/goroute"
)

// Config configures the component.
type Config struct {
	// ReadTimeout bounds reading a request. Defaults to 30s.
	ReadTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) parse() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Component creates CloudEvents HTTP endpoints.
type Component struct {
	cfg Config
}

// NewComponent creates a CloudEvents component.
func NewComponent(cfg Config) *Component {
	return &Component{cfg: cfg.parse()}
}

// CreateEndpoint implements endpoint.Component.
func (c *Component) CreateEndpoint(uri endpoint.URI) (endpoint.Endpoint, error) {
	addr, path, _ := strings.Cut(uri.Remaining, "/")
	if addr == "" || !strings.Contains(addr, ":") {
		return nil, exchange.Configuration(fmt.Errorf("%w: cloudevents endpoint needs host:port", endpoint.ErrInvalidURI))
	}
	ep := &Endpoint{
		addr:      addr,
		path:      "/" + path,
		eventType: uri.Params.String("type", DefaultType),
		source:    uri.Params.String("source", DefaultSource),
		cfg:       c.cfg,
	}
	if err := uri.Params.Err(); err != nil {
		return nil, err
	}
	ep.uri = uri.String()
	return ep, nil
}

// Endpoint is an HTTP address receiving or sending events.
type Endpoint struct {
	uri       string
	addr      string
	path      string
	eventType string
	source    string
	cfg       Config
}

// URI implements endpoint.Endpoint.
func (e *Endpoint) URI() string { return e.uri }

// Pattern implements endpoint.Endpoint.
func (e *Endpoint) Pattern() exchange.Pattern { return exchange.InOut }

// Singleton implements endpoint.Endpoint.
func (e *Endpoint) Singleton() bool { return true }

// Target returns the URL producers send to.
func (e *Endpoint) Target() string { return "http://" + e.addr + e.path }

func toMessage(ev *cloudevents.Event) *exchange.Message {
	headers := map[string]any{
		HeaderID:     ev.ID(),
		HeaderType:   ev.Type(),
		HeaderSource: ev.Source(),
	}
	if s := ev.Subject(); s != "" {
		headers[HeaderSubject] = s
	}
	if t := ev.Time(); !t.IsZero() {
		headers[HeaderTime] = t
	}
	if ct := ev.DataContentType(); ct != "" {
		headers[HeaderContentType] = ct
	}
	for k, v := range ev.Extensions() {
		headers[HeaderPrefix+k] = v
	}
	var body []byte
	if data := ev.Data(); len(data) > 0 {
		body = append([]byte(nil), data...)
	}
	return exchange.NewMessage(body, headers)
}

// toEvent builds an event from m. Attributes missing from the headers are
// taken from id and the endpoint options.
func (e *Endpoint) toEvent(id string, m *exchange.Message) (*cloudevents.Event, error) {
	ev := cloudevents.NewEvent()
	ev.SetID(id)
	ev.SetType(e.eventType)
	ev.SetSource(e.source)
	ev.SetTime(time.Now())
	contentType := "application/octet-stream"

	for k, v := range m.Headers() {
		name := strings.ToLower(k)
		if name == strings.ToLower(HeaderContentType) {
			if s, ok := v.(string); ok {
				contentType = s
			}
			continue
		}
		attr, ok := strings.CutPrefix(name, HeaderPrefix)
		if !ok {
			continue
		}
		switch attr {
		case "id":
			ev.SetID(fmt.Sprint(v))
		case "type":
			ev.SetType(fmt.Sprint(v))
		case "source":
			ev.SetSource(fmt.Sprint(v))
		case "subject":
			ev.SetSubject(fmt.Sprint(v))
		case "time":
			if t, ok := v.(time.Time); ok {
				ev.SetTime(t)
			}
		case "specversion", "datacontenttype", "dataschema":
		default:
			ev.SetExtension(attr, v)
		}
	}

	body, err := m.BodyBytes()
	if err != nil {
		return nil, err
	}
	if body != nil {
		if err := ev.SetData(contentType, body); err != nil {
			return nil, err
		}
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
