// Package identity assigns each browser an anonymous device id and each tab
// a session id so realtime connections can be told apart.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	DeviceCookieName      = "persona_chat_device"
	SessionHeaderName     = "X-Chat-Session-ID"
	DefaultSessionIDValue = "default"
	deviceCookieMaxAge    = 30 * 24 * time.Hour
)

type contextKey int

const (
	deviceIDKey contextKey = iota
	sessionIDKey
)

var (
	deviceIDPattern  = regexp.MustCompile(`^dev_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// DeviceIDFromContext extracts the device id from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session id from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// ClientID combines device and tab into one connection key. It is empty
// when the middleware did not run.
func ClientID(ctx context.Context) string {
	device := DeviceIDFromContext(ctx)
	if device == "" {
		return ""
	}
	return device + "/" + SessionIDFromContext(ctx)
}

func generateDeviceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return "dev_" + hex.EncodeToString(buf), nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func getOrCreateDeviceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(DeviceCookieName); err == nil && deviceIDPattern.MatchString(c.Value) {
		id = c.Value
	} else {
		generated, err := generateDeviceID()
		if err != nil {
			return "", err
		}
		id = generated
	}

	// Refresh on every request so active devices keep their id.
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the device id and per-tab session id.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, err := getOrCreateDeviceID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish device identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), deviceIDKey, deviceID)
			ctx = context.WithValue(ctx, sessionIDKey, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
