package handler

import (
	"context"
	"net"
	"net/http"

	"github.com/datatap/datatap/internal/gateway"
)

// Server is the transport-neutral gateway. *gateway.Gateway implements it.
type Server interface {
	Serve(ctx context.Context, req gateway.Request) gateway.Response
}

// GatewayHandler adapts the gateway to net/http.
type GatewayHandler struct {
	gw Server
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(gw Server) *GatewayHandler {
	return &GatewayHandler{gw: gw}
}

// ServeHTTP handles every request under the gateway prefix. The configured
// HTTP method only selects the endpoint; the body is never read.
func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.gw.Serve(r.Context(), gateway.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Credential: r.Header.Get(gateway.HeaderAPIKey),
		Query:      r.URL.Query(),
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	writeJSON(w, resp.Status, resp.Body)
}

// clientIP strips the port from RemoteAddr. RealIP middleware has already
// applied X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
