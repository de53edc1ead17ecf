package httpserver

import "net/http"

// Routes groups the handlers of the service surface.
type Routes struct {
	OCREntry       http.HandlerFunc
	OCRExit        http.HandlerFunc
	SessionsMe     http.HandlerFunc
	ActiveSessions http.HandlerFunc
	PaySession     http.HandlerFunc
	Occupancy      http.HandlerFunc
	WSOccupancy    http.HandlerFunc
	Health         http.HandlerFunc

	// CameraAuth guards the detection webhooks only.
	CameraAuth func(http.Handler) http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()

	guard := routes.CameraAuth
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	if routes.OCREntry != nil {
		mux.Handle("POST /internal/ocr/entry", guard(routes.OCREntry))
	}
	if routes.OCRExit != nil {
		mux.Handle("POST /internal/ocr/exit", guard(routes.OCRExit))
	}
	if routes.SessionsMe != nil {
		mux.Handle("GET /sessions/me", routes.SessionsMe)
	}
	if routes.ActiveSessions != nil {
		mux.Handle("GET /sessions/active", routes.ActiveSessions)
	}
	if routes.PaySession != nil {
		mux.Handle("POST /sessions/{id}/pay", routes.PaySession)
	}
	if routes.Occupancy != nil {
		mux.Handle("GET /locations/{id}/occupancy", routes.Occupancy)
	}
	if routes.WSOccupancy != nil {
		mux.Handle("GET /ws/occupancy", routes.WSOccupancy)
	}
	if routes.Health != nil {
		mux.Handle("GET /health", routes.Health)
	}
	return mux
}
