package route

// Definition describes a route: the endpoint it consumes from and its steps.
type Definition struct {
	id           string
	from         string
	steps        []Step
	errorHandler *ErrorHandler
}

// From starts a route definition consuming from uri.
func From(uri string, steps ...Step) *Definition {
	return &Definition{from: uri, steps: steps}
}

// WithID sets the route id. Routes without an id are named "route1",
// "route2" and so on in the order they are added.
func (d *Definition) WithID(id string) *Definition {
	d.id = id
	return d
}

// WithErrorHandler overrides the context's error handler for this route.
func (d *Definition) WithErrorHandler(eh ErrorHandler) *Definition {
	d.errorHandler = &eh
	return d
}
