package api

import (
	"context"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/emissionwatch/internal/metrics"
	"github.com/lox/emissionwatch/internal/models"
	"github.com/lox/emissionwatch/internal/narrative"
	"github.com/lox/emissionwatch/internal/predict"
	"github.com/lox/emissionwatch/internal/store"
)

const defaultMaxUploadBytes = 32 << 20

// Summarizer writes a free-text summary of a prediction result.
type Summarizer interface {
	Summarize(ctx context.Context, res *models.PredictionResult) (string, error)
}

type Options struct {
	Port           string
	MaxUploadBytes int64
	Summarizer     Summarizer
	SummaryCache   *narrative.Cache
}

type Server struct {
	svc        *predict.Service
	store      *store.Store
	port       string
	maxUpload  int64
	tmpl       *template.Template
	summarizer Summarizer
	cache      *narrative.Cache
}

func NewServer(svc *predict.Service, st *store.Store, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Server{
		svc:        svc,
		store:      st,
		port:       opts.Port,
		maxUpload:  opts.MaxUploadBytes,
		tmpl:       newTemplates(),
		summarizer: opts.Summarizer,
		cache:      opts.SummaryCache,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /runs/{id}/upload", s.handleRunUpload)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/predict", s.handleAPIPredict)
	mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleAPIRun)
	mux.Handle("GET /metrics", promhttp.Handler())
	return instrument(mux)
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by matched route pattern and status code.
func instrument(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}
