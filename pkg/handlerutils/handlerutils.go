package handlerutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

func JSON(w http.ResponseWriter, statusCode int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if obj != nil {
		if err := json.NewEncoder(w).Encode(obj); err != nil {
			// Headers are already sent, so the best we can do is log.
			zap.L().Error("Error encoding JSON response", zap.Error(err))
		}
	}
}

// ReadJSON decodes a request body of at most 1 MiB into out.
func ReadJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// BearerToken returns the token of an "Authorization: Bearer" header, or
// the empty string.
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ClientCredentials returns the OAuth client id and secret from HTTP Basic
// auth, falling back to the client_id and client_secret form values. The
// form must already be parsed. Basic credentials are form-encoded
// (RFC 6749 section 2.3.1); ones that fail to decode yield empty values.
func ClientCredentials(r *http.Request) (string, string) {
	if rawID, rawSecret, ok := r.BasicAuth(); ok && rawID != "" {
		id, err := url.QueryUnescape(rawID)
		if err != nil {
			return "", ""
		}
		secret, err := url.QueryUnescape(rawSecret)
		if err != nil {
			return "", ""
		}
		return id, secret
	}
	return r.Form.Get("client_id"), r.Form.Get("client_secret")
}

// GetClientIP extracts the client IP from the request using the X-Forwarded-For,
// X-Real-IP and RemoteAddr headers.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Get the first IP in the comma-separated list
		ifs := strings.Split(xff, ",")
		return strings.TrimSpace(ifs[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}

// GetBaseURL returns the URL of the request without the path and
// infers the scheme (http or https)
func GetBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}
