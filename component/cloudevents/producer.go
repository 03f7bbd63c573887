package cloudevents

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/fxsml/goroute/endpoint"
	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/processor"
)

// ErrRejected wraps non-2xx responses.
var ErrRejected = errors.New("cloudevents: event rejected")

// CreateProducer implements endpoint.Endpoint.
func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("cloudevents: create client: %w", err)
	}
	return endpoint.NewProducer(processor.Func(func(ctx context.Context, ex *exchange.Exchange) error {
		return e.send(ctx, client, ex)
	})), nil
}

func (e *Endpoint) send(ctx context.Context, client cloudevents.Client, ex *exchange.Exchange) error {
	ev, err := e.toEvent(ex.ID(), ex.In())
	if err != nil {
		return exchange.Permanent(fmt.Errorf("cloudevents: %s: %w", e.uri, err))
	}
	ctx = cloudevents.ContextWithTarget(ctx, e.Target())

	if ex.Pattern() != exchange.InOut {
		return classify(e.Target(), client.Send(ctx, *ev))
	}
	reply, result := client.Request(ctx, *ev)
	if err := classify(e.Target(), result); err != nil {
		return err
	}
	if reply != nil {
		ex.SetOut(toMessage(reply))
	}
	return nil
}

func classify(target string, result error) error {
	if result == nil || cloudevents.IsACK(result) {
		return nil
	}
	var httpResult *cehttp.Result
	if cloudevents.ResultAs(result, &httpResult) {
		err := fmt.Errorf("%w: %s: status %d", ErrRejected, target, httpResult.StatusCode)
		if httpResult.StatusCode >= http.StatusInternalServerError || httpResult.StatusCode == http.StatusTooManyRequests {
			return exchange.Transient(err)
		}
		return exchange.Permanent(err)
	}
	return exchange.Transient(fmt.Errorf("cloudevents: send to %s: %w", target, result))
}
