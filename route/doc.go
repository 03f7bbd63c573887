// Package route assembles processors into routes and runs them.
//
// A route reads exchanges from one endpoint and passes them through a list
// of steps:
//
//	rc := route.NewContext(route.Config{})
//	err := rc.AddRoutes(
//		route.From("direct:orders",
//			route.Choice(
//				route.When(expr.HeaderEquals("region", "eu"), route.To("seda:eu")),
//				route.Otherwise(route.To("log:orders")),
//			),
//		).WithID("orders"),
//	)
//
// Every route runs its steps as
//
//	UnitOfWork(interceptors(ErrorHandler(Pipeline(steps))))
//
// so the error handler supervises all steps and the Unit of Work completes
// once the exchange left the route, including redeliveries scheduled later.
//
// The Context owns components, the endpoint registry, the thread-pool
// manager and the routes. AddRoutes validates definitions as a whole: when a
// definition is invalid it returns an error of kind
// exchange.KindConfiguration and adds nothing.
package route
