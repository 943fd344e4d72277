package server

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteConnect, ChainMiddleware(s.ConnectHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteStatus, ChainMiddleware(s.StatusHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteDisconnect, ChainMiddleware(s.DisconnectHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSend, ChainMiddleware(s.SendHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteInfo, ChainMiddleware(s.InfoHandler(), s.APIMiddleware()...))
}
