// Copyright 2025 FieldLine
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"fieldline/platform/llm"
	"fieldline/platform/shared/logger"
	"fieldline/platform/workflow"
)

// Config is the gateway's environment-derived configuration.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	InternalServiceSecret string
	SessionJWTSecret      string

	ToolRPCEndpoint string
	InternalAPIBase string
}

// ConfigFromEnv reads the gateway configuration from the environment.
func ConfigFromEnv() Config {
	cfg := Config{
		Port:                  os.Getenv("PORT"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		InternalServiceSecret: os.Getenv("INTERNAL_SERVICE_SECRET"),
		SessionJWTSecret:      os.Getenv("SESSION_JWT_SECRET"),
		ToolRPCEndpoint:       os.Getenv("TOOL_RPC_ENDPOINT"),
		InternalAPIBase:       os.Getenv("INTERNAL_API_BASE"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.ToolRPCEndpoint == "" {
		cfg.ToolRPCEndpoint = "http://localhost:8090/mcp"
	}
	if cfg.InternalAPIBase == "" {
		cfg.InternalAPIBase = "http://localhost:8081"
	}
	return cfg
}

// Server assembles the gateway's components and serves them over HTTP.
type Server struct {
	cfg    Config
	db     *sql.DB
	redis  *redis.Client
	http   *http.Server
	logger *logger.Logger
}

// NewServer wires the full pipeline: repository, adapter, router,
// classifier, engine, handler.
func NewServer(cfg Config) (*Server, error) {
	log := logger.New("gateway")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	var limiter llm.RateLimiter = llm.NoopRateLimiter{}
	var budget llm.BudgetGuard = llm.NoopBudgetGuard{}
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		limiter = llm.NewRedisRateLimiter(redisClient, 0, 0)
		budget = llm.NewRedisBudgetGuard(redisClient, 0)
	} else {
		log.Warn("", "", "REDIS_URL not set, rate limiting and budget tracking disabled", nil)
	}

	repository := llm.NewRepository(db, llm.NewMemoryCache(0), log)
	adapter := llm.NewAdapter(repository, log)
	router := llm.NewRouter(repository, adapter, limiter, budget, log)

	registry := workflow.NewRegistry()
	classifier := workflow.NewClassifier(router, registry, log)
	dispatcher := workflow.NewDispatcher(workflow.DispatcherConfig{
		ToolRPCEndpoint: cfg.ToolRPCEndpoint,
		APIBase:         cfg.InternalAPIBase,
		ServiceSecret:   cfg.InternalServiceSecret,
		Logger:          log,
	})
	engine := workflow.NewEngine(dispatcher, workflow.EngineConfig{Logger: log})

	resolver := NewContextResolver(db, cfg.InternalServiceSecret, cfg.SessionJWTSecret, log)
	handler := NewHandler(resolver, router, classifier, engine, log)

	s := &Server{cfg: cfg, db: db, redis: redisClient, logger: log}

	r := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/v1/llm", handler.Generate).Methods("POST")

	s.http = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: workflow.DefaultWorkflowTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("", "", "gateway listening", map[string]interface{}{"addr": s.http.Addr})
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	return s.db.Close()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"service": "fieldline-gateway",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
