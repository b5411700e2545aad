package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/lox/emissionwatch/internal/ingest"
	"github.com/lox/emissionwatch/internal/models"
	"github.com/lox/emissionwatch/internal/narrative"
	"github.com/lox/emissionwatch/internal/predict"
	"github.com/lox/emissionwatch/internal/store"
)

const (
	uploadField       = "csvFile"
	recentRunsOnPage  = 5
	trainingRunsShown = 5
	summaryTimeout    = 20 * time.Second
)

func (s *Server) indexData() IndexData {
	data := IndexData{MaxUploadMB: s.maxUpload >> 20}
	if sum, ok := s.svc.Summary(); ok {
		data.Trained = true
		data.Summary = sum
	} else if err := s.svc.TrainErr(); err != nil {
		data.TrainError = err.Error()
	}

	engine := s.svc.Engine()
	for code, limit := range engine.Limits() {
		data.Thresholds = append(data.Thresholds, ThresholdView{Code: code, DisplayName: engine.DisplayName(code), Limit: limit})
	}
	sort.Slice(data.Thresholds, func(i, j int) bool { return data.Thresholds[i].Code < data.Thresholds[j].Code })

	runs, err := s.store.ListRuns(store.RunFilter{Limit: recentRunsOnPage})
	if err != nil {
		log.Printf("api: list recent runs: %v", err)
	}
	data.RecentRuns = runs

	training, err := s.store.RecentTrainingRuns(trainingRunsShown)
	if err != nil {
		log.Printf("api: list training runs: %v", err)
	}
	data.Training = training
	return data
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", s.indexData())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, payload, err := s.readUpload(w, r)
	if err != nil {
		s.renderUploadError(w, uploadStatus(err), err)
		return
	}

	run, res, err := s.predictPayload(name, payload)
	if err != nil {
		s.renderUploadError(w, statusFor(err), err)
		return
	}

	data := ResultData{SourceName: name, Result: res, UploadURL: uploadURL(run)}
	if run != nil {
		data.RunID = run.ID
	}
	data.Summary, data.Generated = s.summarize(r.Context(), data.RunID, res)
	s.render(w, http.StatusOK, "result.html", data)
}

func (s *Server) renderUploadError(w http.ResponseWriter, code int, err error) {
	data := s.indexData()
	data.Error = userMessage(err)
	s.render(w, code, "index.html", data)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	filter := runFilter(r)
	runs, err := s.store.ListRuns(filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, http.StatusOK, "runs.html", RunsData{Runs: runs, Filter: filter})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}

	data := ResultData{RunID: run.ID, SourceName: run.SourceName, Result: &run.Result, UploadURL: uploadURL(run)}
	data.Summary, data.Generated = s.summarize(r.Context(), run.ID, &run.Result)
	s.render(w, http.StatusOK, "result.html", data)
}

// handleRunUpload serves the archived input file of a stored run.
func (s *Server) handleRunUpload(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil || !run.PayloadHash.Valid {
		http.NotFound(w, r)
		return
	}

	// Either lookup comes back empty once upload retention has removed it.
	upload, err := s.store.GetUpload(run.PayloadHash.String)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if upload == nil {
		http.NotFound(w, r)
		return
	}
	payload, err := s.store.GetUploadPayload(upload.PayloadHash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if payload == nil {
		http.NotFound(w, r)
		return
	}

	name := run.SourceName
	if name == "" {
		name = upload.FileName
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Write(payload)
}

func (s *Server) render(w http.ResponseWriter, code int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("api: render %s: %v", name, err)
	}
}

// readUpload reads the uploaded file from a multipart form, or the raw
// request body for other content types.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	if ct := r.Header.Get("Content-Type"); ct != "" && !isMultipart(ct) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, fmt.Errorf("read body: %w", err)
		}
		if len(payload) == 0 {
			return "", nil, errNoFile
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "upload.csv"
		}
		return name, payload, nil
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, errNoFile
		}
		return "", nil, fmt.Errorf("read form: %w", err)
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if len(payload) == 0 {
		return "", nil, errNoFile
	}
	return header.Filename, payload, nil
}

var errNoFile = errors.New("please choose a CSV file to upload")

// predictPayload copies the upload to a temporary file, runs the prediction
// and records the run. The temporary file is removed on every path.
func (s *Server) predictPayload(name string, payload []byte) (*models.PredictionRun, *models.PredictionResult, error) {
	tmp, err := os.CreateTemp("", "emissionwatch-upload-*.csv")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, werr := tmp.Write(payload)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, nil, fmt.Errorf("write temp file: %w", werr)
	}

	res, err := s.svc.UploadAndPredict(tmp.Name())
	if err != nil {
		log.Printf("api: prediction for %s failed: %v", name, err)
		return nil, nil, err
	}

	hash, _, err := s.store.ArchiveUpload(name, payload)
	if err != nil {
		log.Printf("api: archive upload %s: %v", name, err)
		hash = ""
	}
	run, err := s.store.SaveRun(name, hash, res)
	if err != nil {
		log.Printf("api: save run for %s: %v", name, err)
		return nil, res, nil
	}
	log.Printf("api: run %s: %d rows, %d warnings from %s", run.ID, len(res.Rows), res.WarningCount, name)
	return run, res, nil
}

// summarize prefers a cached or generated summary and falls back to the
// deterministic one. generated reports which was used.
func (s *Server) summarize(ctx context.Context, runID string, res *models.PredictionResult) (summary string, generated bool) {
	fallback := narrative.Build(res)
	if s.summarizer == nil || len(res.Rows) == 0 {
		return fallback, false
	}
	if s.cache != nil && runID != "" {
		if cached, ok := s.cache.Get(runID); ok {
			return cached, true
		}
	}

	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()
	text, err := s.summarizer.Summarize(ctx, res)
	if err != nil {
		log.Printf("api: summary for run %q: %v", runID, err)
		return fallback, false
	}
	if s.cache != nil && runID != "" {
		if err := s.cache.Set(runID, text); err != nil {
			log.Printf("api: cache summary for run %s: %v", runID, err)
		}
	}
	return text, true
}

func runFilter(r *http.Request) store.RunFilter {
	q := r.URL.Query()
	f := store.RunFilter{
		Source:       q.Get("source"),
		WarningsOnly: q.Get("warnings") == "1" || q.Get("warnings") == "true",
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = n
	}
	if since := q.Get("since"); since != "" {
		if t, err := ingest.ParseDate(since); err == nil {
			f.Since = t
		}
	}
	return f
}

func statusFor(err error) int {
	var schemaErr *ingest.SchemaError
	var parseErr *ingest.ParseError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, predict.ErrModelNotTrained):
		return http.StatusServiceUnavailable
	case errors.As(err, &schemaErr), errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoFile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// uploadStatus maps errors reading the request itself, which are client
// errors unless proven otherwise.
func uploadStatus(err error) int {
	if code := statusFor(err); code != http.StatusInternalServerError {
		return code
	}
	return http.StatusBadRequest
}

func userMessage(err error) string {
	var schemaErr *ingest.SchemaError
	var parseErr *ingest.ParseError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, predict.ErrModelNotTrained):
		return "The model is not trained yet. Check the training data and restart the service."
	case errors.As(err, &schemaErr):
		return "The file is missing required columns: " + schemaErr.Error()
	case errors.As(err, &parseErr):
		return "The file could not be read: " + parseErr.Error()
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("The file is larger than the %d MB limit.", tooLarge.Limit>>20)
	default:
		return "Error: " + err.Error()
	}
}
