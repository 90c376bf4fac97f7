package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Source names where a key is read from. An empty Scheme takes the whole
// header value.
type Source struct {
	Header string
	Scheme string
}

// DefaultSources reads "Authorization: Bearer <key>", then "X-API-Key".
var DefaultSources = []Source{
	{Header: "Authorization", Scheme: "Bearer"},
	{Header: "X-API-Key"},
}

type contextKey struct{}

// KeyName returns the name of the key that authenticated the request.
func KeyName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(contextKey{}).(string)
	return name, ok
}

// Middleware rejects requests without a valid key with 401. It reads keys
// from sources, or DefaultSources when none are given.
func Middleware(keys *KeySet, logger *slog.Logger, sources ...Source) func(http.Handler) http.Handler {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := keys.Validate(extract(r, sources))
			if err != nil {
				level := slog.LevelWarn
				if errors.Is(err, ErrMissingKey) {
					level = slog.LevelDebug
				}
				logger.Log(r.Context(), level, "admin request rejected",
					"error", err,
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				unauthorized(w, err)
				return
			}
			logger.Debug("admin request authenticated", "key", key.Name, "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), contextKey{}, key.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extract(r *http.Request, sources []Source) string {
	for _, src := range sources {
		v := r.Header.Get(src.Header)
		if v == "" {
			continue
		}
		if src.Scheme == "" {
			return v
		}
		if scheme, key, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, src.Scheme) {
			return strings.TrimSpace(key)
		}
	}
	return ""
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="ironbee"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
