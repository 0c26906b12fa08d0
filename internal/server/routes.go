package server

import "net/http"

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/health", chain(
		http.HandlerFunc(s.handleHealth),
		LoggingMiddleware,
	))

	mux.Handle("/auth/mercadolibre", chain(
		http.HandlerFunc(s.handleAuthLogin),
		RequestIDMiddleware,
		LoggingMiddleware,
	))

	mux.Handle("/auth/mercadolibre/callback", chain(
		http.HandlerFunc(s.handleAuthCallback),
		RequestIDMiddleware,
		LoggingMiddleware,
	))

	mux.Handle("/orders", chain(
		http.HandlerFunc(s.handleOrders),
		RequestIDMiddleware,
		LoggingMiddleware,
	))

	mux.Handle("/questions", chain(
		http.HandlerFunc(s.handleQuestions),
		RequestIDMiddleware,
		LoggingMiddleware,
	))

	mux.Handle("/questions/{id}", chain(
		http.HandlerFunc(s.handleQuestion),
		RequestIDMiddleware,
		LoggingMiddleware,
	))

	mux.Handle("/questions/{id}/answers", chain(
		http.HandlerFunc(s.handleAnswerQuestion),
		RequestIDMiddleware,
		LoggingMiddleware,
		RequestSizeLimitMiddleware(defaultMaxBodySize),
	))

	mux.Handle("/notifications", chain(
		http.HandlerFunc(s.handleNotifications),
		RequestIDMiddleware,
		LoggingMiddleware,
		RequestSizeLimitMiddleware(defaultMaxBodySize),
	))

	return mux
}

func chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}
