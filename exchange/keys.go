package exchange

// Header names set by the engine on messages.
const (
	HeaderRedelivered         = "goroute.redelivered"
	HeaderRedeliveryCounter   = "goroute.redeliveryCounter"
	HeaderRedeliveryMaxCount  = "goroute.redeliveryMaxCounter"
	HeaderRedeliveryExhausted = "goroute.redeliveryExhausted"
)

// Property names set by the engine on exchanges.
const (
	PropertyExceptionCaught   = "goroute.exceptionCaught"
	PropertyFailureEndpoint   = "goroute.failureEndpoint"
	PropertyDuplicateMessage  = "goroute.duplicateMessage"
	PropertyIdempotentClaim   = "goroute.idempotentClaim"
	PropertyFilterMatched     = "goroute.filterMatched"
	PropertyRouteStop         = "goroute.routeStop"
	PropertyFromEndpoint      = "goroute.fromEndpoint"
	PropertyFromRoute         = "goroute.fromRoute"
	PropertyMulticastIndex    = "goroute.multicastIndex"
	PropertyMulticastComplete = "goroute.multicastComplete"
)
