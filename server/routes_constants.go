package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteHealth     = "/health"
	RouteConnect    = "/connect"
	RouteStatus     = "/status/{tenantId}"
	RouteDisconnect = "/disconnect"
	RouteSend       = "/send"
	RouteInfo       = "/info/{tenantId}"
)
