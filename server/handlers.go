package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bananagen/core"
	"bananagen/db"
	"bananagen/imagegen"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; templates arrive inline as data URLs.
const maxBodyBytes = 32 << 20

// JobRequest is one job in a /generate or /batch body.
type JobRequest struct {
	ID       string         `json:"id,omitempty"`
	Prompt   string         `json:"prompt"`
	Width    int            `json:"width,omitempty"`
	Height   int            `json:"height,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Params   map[string]any `json:"params,omitempty"`

	// Template is an optional base64 data URL.
	Template string `json:"template,omitempty"`
}

// BatchRequest is the /batch body.
type BatchRequest struct {
	Jobs []JobRequest `json:"jobs"`
}

// JobResponse is the /generate response.
type JobResponse struct {
	imagegen.JobResult
	Error string `json:"error,omitempty"`
}

// BatchAccepted is the /batch response.
type BatchAccepted struct {
	BatchID  string `json:"batch_id"`
	JobCount int    `json:"job_count"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := toJob(req)
	if err != nil {
		s.writeValidationError(w, err)
		return
	}

	ctx := r.Context()
	if err := s.repo.CreateBatch(ctx, "", []imagegen.Job{job}); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.repo.MarkProcessing(ctx, "", []string{job.ID}); err != nil {
		s.logger.Warn("failed to mark job processing", zap.String("job_id", job.ID), zap.Error(err))
	}

	result, err := s.submitter.Submit(ctx, []imagegen.Job{job}, s.config.Batch)
	if err != nil {
		s.writeValidationError(w, err)
		return
	}
	res := result.Results[0]
	// The request context may already be done; the record must still land
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.repo.RecordJobResult(recordCtx, res); err != nil {
		s.logger.Error("failed to record job result", zap.String("job_id", job.ID), zap.Error(err))
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, JobResponse{JobResult: res, Error: res.ErrorMessage()})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := core.ValidateBatchSize(len(req.Jobs)); err != nil {
		s.writeValidationError(w, err)
		return
	}

	jobs := make([]imagegen.Job, 0, len(req.Jobs))
	seen := make(map[string]bool, len(req.Jobs))
	for i, jr := range req.Jobs {
		job, err := toJob(jr)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("job %d: %v", i, err)})
			return
		}
		if seen[job.ID] {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("duplicate job id %q", job.ID), Field: "id"})
			return
		}
		seen[job.ID] = true
		jobs = append(jobs, job)
	}

	batchID := uuid.NewString()
	if err := s.repo.CreateBatch(r.Context(), batchID, jobs); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.batches.Add(1)
	go s.runBatch(batchID, jobs)

	s.writeJSON(w, http.StatusAccepted, BatchAccepted{BatchID: batchID, JobCount: len(jobs), Status: db.StatusQueued})
}

// runBatch executes a queued batch on the server's base context and records
// progress as each job finishes.
func (s *Server) runBatch(batchID string, jobs []imagegen.Job) {
	defer s.batches.Done()
	ctx := s.baseCtx
	logger := s.logger.With(zap.String("batch_id", batchID))

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	if err := s.repo.MarkProcessing(ctx, batchID, ids); err != nil {
		logger.Warn("failed to mark batch processing", zap.Error(err))
	}

	cfg := s.config.Batch
	cfg.OnResult = func(_ int, res imagegen.JobResult) {
		apply := func(ctx context.Context) error { return s.repo.RecordJobResult(ctx, res) }
		if s.writer != nil && s.writer.Write("job_result", apply) {
			return
		}
		if err := apply(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to record job result", zap.String("job_id", res.JobID), zap.Error(err))
		}
	}

	result, err := s.submitter.Submit(ctx, jobs, cfg)
	// Final writes must land even when the batch was cancelled
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err != nil {
		logger.Error("batch rejected", zap.Error(err))
		if ferr := s.repo.FailBatch(finishCtx, batchID, err.Error()); ferr != nil {
			logger.Error("failed to mark batch failed", zap.Error(ferr))
		}
		return
	}
	if err := s.repo.CompleteBatch(finishCtx, batchID, result); err != nil {
		logger.Error("failed to complete batch", zap.Error(err))
		return
	}
	logger.Info("batch completed",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("cached", result.Cached))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.repo.Status(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no job or batch with id %q", id)})
		return
	}
	if err != nil {
		s.logger.Error("status lookup failed", zap.String("id", id), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "status lookup failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// toJob validates a request and fills defaults. A missing ID gets a UUID.
func toJob(req JobRequest) (imagegen.Job, error) {
	if req.Width == 0 {
		req.Width = core.DefaultDimension
	}
	if req.Height == 0 {
		req.Height = core.DefaultDimension
	}
	if err := core.ValidatePrompt(req.Prompt); err != nil {
		return imagegen.Job{}, err
	}
	if err := core.ValidateDimensions(req.Width, req.Height); err != nil {
		return imagegen.Job{}, err
	}
	if err := core.ValidateProvider(req.Provider); err != nil {
		return imagegen.Job{}, err
	}

	job := imagegen.Job{
		ID:           req.ID,
		Prompt:       req.Prompt,
		Width:        req.Width,
		Height:       req.Height,
		ProviderHint: req.Provider,
		Params:       req.Params,
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if req.Template != "" {
		_, data, ok := imagegen.DecodeDataURL(req.Template)
		if !ok {
			return imagegen.Job{}, &core.ValidationError{Field: "template", Message: "must be a base64 data URL"}
		}
		job.Template = data
	}
	if _, err := imagegen.CanonicalParams(job.Params); err != nil {
		return imagegen.Job{}, &core.ValidationError{Field: "params", Message: err.Error()}
	}
	return job, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeValidationError(w http.ResponseWriter, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
		return
	}
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrDuplicateID) {
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Field: "id"})
		return
	}
	s.logger.Error("failed to record request", zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to record request"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
