package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"habitline/internal/domain"
	"habitline/internal/engine"
	"habitline/internal/telegram"
)

type AuthConfig struct {
	BotToken           string
	JWTSecret          string
	DebugAllowFakeAuth bool
	InitDataMaxAge     time.Duration
	Logger             *log.Logger
}

// Principal is the authenticated user attached to a request.
type Principal struct {
	User   domain.User
	Source string
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c AuthConfig) initDataMaxAge() time.Duration {
	if c.InitDataMaxAge > 0 {
		return c.InitDataMaxAge
	}
	return 24 * time.Hour
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func userFromContext(ctx context.Context) (domain.User, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.User.ID != 0 {
		return p.User, nil
	}
	return domain.User{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func tmaToken(authz string) (string, bool) {
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "tma") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func profileFromInitData(data telegram.InitData) engine.TelegramProfile {
	p := engine.TelegramProfile{TelegramUserID: data.User.ID}
	if data.User.Username != "" {
		p.Username = &data.User.Username
	}
	if data.User.FirstName != "" {
		p.FirstName = &data.User.FirstName
	}
	if data.User.LastName != "" {
		p.LastName = &data.User.LastName
	}
	return p
}

func authenticateJWT(token, secret string) (int64, error) {
	if strings.TrimSpace(secret) == "" {
		return 0, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return 0, err
	}
	if !parsed.Valid {
		return 0, errors.New("invalid token")
	}
	telegramUserID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || telegramUserID <= 0 {
		return 0, errors.New("subject claim must be a telegram user id")
	}
	return telegramUserID, nil
}

func issueDevToken(secret string, telegramUserID int64, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(telegramUserID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
		path.Join(basePath, "openapi.json"):   true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			initDataHeader := strings.TrimSpace(req.Header.Get("X-Telegram-Init-Data"))
			debugUser := strings.TrimSpace(req.Header.Get("X-Debug-User-Id"))

			resolve := func(p engine.TelegramProfile, source string) {
				user, err := e.GetOrCreateUser(req.Context(), p)
				if err != nil {
					respondStatusError(w, handleError(err))
					return
				}
				ctx := withPrincipal(req.Context(), Principal{User: user, Source: source})
				next.ServeHTTP(w, req.WithContext(ctx))
			}

			if raw, ok := tmaToken(authz); ok {
				data, err := telegram.ValidateInitData(raw, cfg.BotToken, cfg.initDataMaxAge(), time.Now())
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				resolve(profileFromInitData(data), "init_data")
				return
			}

			if token, ok := bearerToken(authz); ok {
				telegramUserID, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				resolve(engine.TelegramProfile{TelegramUserID: telegramUserID}, "jwt")
				return
			}

			if initDataHeader != "" {
				data, err := telegram.ValidateInitData(initDataHeader, cfg.BotToken, cfg.initDataMaxAge(), time.Now())
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				resolve(profileFromInitData(data), "init_data")
				return
			}

			if debugUser != "" && cfg.DebugAllowFakeAuth {
				telegramUserID, err := strconv.ParseInt(debugUser, 10, 64)
				if err != nil || telegramUserID <= 0 {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				cfg.logger().Printf("WARNING: fake auth via X-Debug-User-Id (telegram_user_id=%d); enabled for local development only", telegramUserID)
				resolve(engine.TelegramProfile{TelegramUserID: telegramUserID}, "debug_header")
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
