package api

import (
	"encoding/json"
	"log"
	"mime"
	"net/http"
)

func (s *Server) handleAPIPredict(w http.ResponseWriter, r *http.Request) {
	name, payload, err := s.readUpload(w, r)
	if err != nil {
		writeJSON(w, uploadStatus(err), errorResponse{Error: err.Error()})
		return
	}

	run, res, err := s.predictPayload(name, payload)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	resp := PredictResponse{Result: res}
	if run != nil {
		resp.RunID = run.ID
	}
	resp.Summary, _ = s.summarize(r.Context(), resp.RunID, res)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(runFilter(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	out := make([]runJSON, 0, len(runs))
	for i := range runs {
		out = append(out, toRunJSON(&runs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, toRunJSON(run))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:     "ok",
		Model:      s.svc.State().String(),
		Thresholds: s.svc.Engine().Limits(),
	}
	if sum, ok := s.svc.Summary(); ok {
		health.Training = &sum
	} else {
		health.Status = "degraded"
		if err := s.svc.TrainErr(); err != nil {
			health.TrainingError = err.Error()
		}
	}

	health.TrainingHistory = []trainingRunJSON{}
	training, err := s.store.RecentTrainingRuns(trainingRunsShown)
	if err != nil {
		health.Errors = append(health.Errors, "training history: "+err.Error())
	}
	for _, run := range training {
		health.TrainingHistory = append(health.TrainingHistory, toTrainingRunJSON(run))
	}

	version, err := s.store.MigrationVersion()
	if err != nil {
		health.Status = "error"
		health.Errors = append(health.Errors, "store: "+err.Error())
	}
	health.MigrationVersion = version

	code := http.StatusOK
	if health.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func isMultipart(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "multipart/form-data"
}
