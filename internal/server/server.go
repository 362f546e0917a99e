package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"PerpCore/internal/observability"
	"PerpCore/internal/query"
)

// Server hosts the operational gRPC endpoint (health, reflection) and the
// HTTP surface: JSON query API, Prometheus metrics, and probe handlers.
// Order intake does not pass through here; it arrives over NATS.
type Server struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	health     *observability.HealthChecker
	grpcHealth *health.Server
}

func New(grpcAddr, httpAddr string, svc *query.Service, checker *observability.HealthChecker) *Server {
	grpcServer := grpc.NewServer()
	grpcHealth := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)
	reflection.Register(grpcServer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", checker.LivenessHandler)
	mux.HandleFunc("/readyz", checker.ReadinessHandler)
	registerQueryRoutes(mux, svc)

	return &Server{
		grpcServer: grpcServer,
		httpServer: &http.Server{
			Addr:         httpAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		grpcAddr:   grpcAddr,
		health:     checker,
		grpcHealth: grpcHealth,
	}
}

// Start begins serving on both listeners. Errors after startup are logged,
// not returned; a dead listener flips readiness instead of crashing the
// settlement loop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.grpcAddr, err)
	}

	go func() {
		log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
		if err := s.grpcServer.Serve(lis); err != nil {
			log.Printf("ERROR: gRPC server stopped: %v", err)
		}
	}()

	go func() {
		log.Printf("INFO: HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: HTTP server stopped: %v", err)
			s.health.SetReady(false)
		}
	}()

	s.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Shutdown stops both servers, letting in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) {
	s.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.grpcServer.GracefulStop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("WARN: HTTP shutdown: %v", err)
	}
}

func registerQueryRoutes(mux *http.ServeMux, svc *query.Service) {
	mux.HandleFunc("/v1/traders/{trader}/stats", func(w http.ResponseWriter, r *http.Request) {
		trader, err := uuid.Parse(r.PathValue("trader"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid trader id")
			return
		}
		resp, err := svc.TraderStats(r.Context(), trader)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/v1/traders/{trader}/history", func(w http.ResponseWriter, r *http.Request) {
		trader, err := uuid.Parse(r.PathValue("trader"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid trader id")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		resp, err := svc.TraderHistory(r.Context(), trader, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/v1/pairs/{pair}/stats", func(w http.ResponseWriter, r *http.Request) {
		pair, err := parsePair(r.PathValue("pair"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid pair index")
			return
		}
		resp, err := svc.PairStats(r.Context(), pair)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/v1/pairs/{pair}/prices", func(w http.ResponseWriter, r *http.Request) {
		pair, err := parsePair(r.PathValue("pair"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid pair index")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, svc.RecentPrices(pair, limit))
	})
}

func parsePair(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
