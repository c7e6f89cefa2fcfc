// glucolog-backend is a development stand-in for the hosted readings API.
// It speaks the same envelope protocol as the real service: bearer-token
// auth, POST /api/readings to accept a record and issue its id, and
// GET /api/readings?since= for incremental pulls.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const measuredAtLayout = "02/01/2006 15:04:05"

var backendZone = time.FixedZone("UTC-3", -3*3600)

type wireReading struct {
	ID         string  `json:"id"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Category   string  `json:"category"`
	Notes      string  `json:"notes"`
	MeasuredAt string  `json:"measured_at"`
}

type storedReading struct {
	wireReading
	updatedAt int64 // unix ms, drives ?since= filtering
}

// memStore is the in-memory reading store. Data lives for the process
// lifetime only; this binary exists for local development and tests.
type memStore struct {
	mu       sync.Mutex
	readings []storedReading
	nextID   int64
}

func (s *memStore) create(r wireReading) wireReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = strconv.FormatInt(s.nextID, 10)
	s.readings = append(s.readings, storedReading{wireReading: r, updatedAt: time.Now().UnixMilli()})
	return r
}

func (s *memStore) list(since int64) []wireReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wireReading, 0, len(s.readings))
	for _, r := range s.readings {
		if r.updatedAt > since {
			out = append(out, r.wireReading)
		}
	}
	return out
}

type server struct {
	store  *memStore
	secret string
	logger *zap.Logger
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file, using environment variables")
	}
	port := envOr("GLUCOLOG_BACKEND_PORT", "8080")
	secret := envOr("GLUCOLOG_JWT_SECRET", "dev-secret")

	srv := &server{store: &memStore{}, secret: secret, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(5, 10))
		r.Post("/auth/token", srv.handleIssueToken)
	})

	r.Group(func(r chi.Router) {
		r.Use(srv.jwtAuth)
		r.Post("/api/readings", srv.handleCreateReading)
		r.Get("/api/readings", srv.handleListReadings)
	})

	httpSrv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		logger.Info("dev backend listening", zap.String("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	_ = httpSrv.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// handleIssueToken mints a 24h bearer token for a device. The real service
// authenticates users; here any device name gets a token.
func (s *server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Device string `json:"device"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Device == "" {
		writeError(w, http.StatusBadRequest, "device name required")
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "glucolog",
		Subject:   req.Device,
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"token": token})
}

func (s *server) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	var req wireReading
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Value <= 0 {
		writeError(w, http.StatusBadRequest, "value must be positive")
		return
	}
	if req.Unit != "mg/dL" && req.Unit != "mmol/L" {
		writeError(w, http.StatusBadRequest, "unknown unit")
		return
	}
	if _, err := time.ParseInLocation(measuredAtLayout, req.MeasuredAt, backendZone); err != nil {
		writeError(w, http.StatusBadRequest, "bad measured_at, want DD/MM/YYYY HH:MM:SS")
		return
	}

	created := s.store.create(req)
	s.logger.Info("reading created", zap.String("id", created.ID))
	writeData(w, http.StatusCreated, created)
}

func (s *server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad since parameter")
			return
		}
		since = v
	}
	writeData(w, http.StatusOK, s.store.list(since))
}

// jwtAuth validates the Bearer token. Errors go out in the envelope so the
// client classifies them like any other backend rejection.
func (s *server) jwtAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, err := jwt.Parse(auth[len(prefix):], func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return []byte(s.secret), nil
		}, jwt.WithIssuer("glucolog"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Status: status, Message: msg}})
}
