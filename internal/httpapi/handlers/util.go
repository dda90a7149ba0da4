package handlers

import (
	"encoding/json"
	"net"
	"net/http"
)

const maxUserAgentLength = 512

// clientIP expects chi's RealIP middleware to have resolved forwarding headers into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func userAgent(r *http.Request) string {
	ua := r.Header.Get("User-Agent")
	if len(ua) > maxUserAgentLength {
		return ua[:maxUserAgentLength]
	}
	return ua
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	body := map[string]any{
		"error": message,
		"code":  code,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
