package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pathflow/internal/config"
	"pathflow/internal/cv"
	"pathflow/internal/models"
	"pathflow/internal/storage"
	"pathflow/internal/util"
	"pathflow/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

type Server struct {
	cfg        config.Config
	db         *storage.DB
	cohortRepo *storage.CohortRepo
	slideRepo  *storage.SlideRepo
	runRepo    *storage.RunRepo
	predRepo   *storage.PredictionRepo
	temporal   tclient.Client
}

func NewServer(cfg config.Config) *Server {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		panic(err)
	}
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		panic(err)
	}
	return &Server{
		cfg:        cfg,
		db:         db,
		cohortRepo: storage.NewCohortRepo(db),
		slideRepo:  storage.NewSlideRepo(db),
		runRepo:    storage.NewRunRepo(db),
		predRepo:   storage.NewPredictionRepo(db),
		temporal:   tc,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/cohorts", s.handleCohorts)
	mux.HandleFunc("/cohorts/", s.handleCohortsScoped)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/runs/", s.handleRunsScoped)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCohorts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cohorts, err := s.cohortRepo.ListCohorts(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cohorts": cohorts})
	case http.MethodPost:
		var req struct {
			Name   string `json:"name"`
			Target string `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("name is required"))
			return
		}

		cohortID := uuid.NewString()
		cohort := models.Cohort{CohortID: cohortID, Name: req.Name, Target: strings.TrimSpace(req.Target)}
		if err := s.cohortRepo.CreateCohort(r.Context(), cohort); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}

		if err := util.EnsureDir(filepath.Join(s.cfg.SlideInRoot, cohortID)); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		if err := util.EnsureDir(filepath.Join(s.cfg.FeatureOutRoot, cohortID)); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cohort_id": cohortID, "name": req.Name})
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleCohortsScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/cohorts/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	cohortID := parts[0]

	if len(parts) == 2 && parts[1] == "upload" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleUpload(w, r, cohortID)
		return
	}

	if len(parts) == 2 && parts[1] == "table" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleTableUpload(w, r, cohortID)
		return
	}

	if len(parts) == 2 && parts[1] == "slides" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		slides, err := s.slideRepo.ListSlidesByCohort(r.Context(), cohortID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"slides": slides})
		return
	}
	if len(parts) == 2 && parts[1] == "failed" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		slides, err := s.slideRepo.ListFailedSlides(r.Context(), cohortID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"slides": slides})
		return
	}
	if len(parts) == 2 && parts[1] == "preprocess" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		wfID := "preprocess-" + cohortID
		we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
			ID:                                       wfID,
			TaskQueue:                                s.cfg.TemporalTaskQueue,
			WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
			WorkflowExecutionErrorWhenAlreadyStarted: true,
		}, workflows.CohortPreprocessWorkflow, workflows.CohortPreprocessInput{
			CohortID:              cohortID,
			InputDir:              filepath.Join(s.cfg.SlideInRoot, cohortID),
			MaxConcurrentChildren: s.cfg.PreprocessMaxChildren,
		})
		if err != nil {
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
		return
	}
	if len(parts) == 2 && parts[1] == "progress" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var prog workflows.CohortPreprocessProgress
		resp, err := s.temporal.QueryWorkflow(r.Context(), "preprocess-"+cohortID, "", workflows.QueryGetProgress)
		if err != nil {
			// Fallback to DB-derived progress when no active workflow query is available.
			slides, sErr := s.slideRepo.ListSlidesByCohort(r.Context(), cohortID)
			if sErr != nil {
				writeErr(w, http.StatusInternalServerError, sErr)
				return
			}
			per := make(map[string]string, len(slides))
			done := 0
			failed := 0
			for _, sl := range slides {
				per[sl.Filename] = sl.Status
				if sl.Status == "processed" {
					done++
				}
				if sl.Status == "failed" {
					failed++
				}
			}
			writeJSON(w, http.StatusOK, workflows.CohortPreprocessProgress{
				CohortID: cohortID,
				Total:    len(slides),
				Done:     done,
				Failed:   failed,
				PerSlide: per,
			})
			return
		}
		if err := resp.Get(&prog); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, prog)
		return
	}

	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, cohortID string) {
	if err := r.ParseMultipartForm(512 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		if single, ok := firstSingleFile(r.MultipartForm.File); ok {
			files = append(files, single)
		}
	}
	if len(files) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}

	inDir := filepath.Join(s.cfg.SlideInRoot, cohortID)
	if err := util.EnsureDir(inDir); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	type uploadResult struct {
		Filename string `json:"filename"`
		Digest   string `json:"digest"`
	}
	out := make([]uploadResult, 0, len(files))

	for _, fh := range files {
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".slide.json") {
			continue
		}
		digest, savedPath, err := saveUploadedFile(inDir, fh)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, uploadResult{Filename: filepath.Base(savedPath), Digest: digest})
	}

	writeJSON(w, http.StatusOK, map[string]any{"uploaded": out})
}

func (s *Server) handleTableUpload(w http.ResponseWriter, r *http.Request, cohortID string) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	fh, ok := firstSingleFile(r.MultipartForm.File)
	if !ok {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}
	inDir := filepath.Join(s.cfg.SlideInRoot, cohortID)
	if err := util.EnsureDir(inDir); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	src, err := fh.Open()
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("open upload: %w", err))
		return
	}
	defer src.Close()
	tablePath := filepath.Join(inDir, "cohort.csv")
	if err := util.WriteFileAtomic(tablePath, func(dst io.Writer) error {
		_, err := io.Copy(dst, src)
		return err
	}); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table_path": tablePath})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		CohortID   string `json:"cohort_id"`
		Folds      int    `json:"folds"`
		Seed       *int64 `json:"seed"`
		Stratify   *bool  `json:"stratify"`
		Regression bool   `json:"regression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.CohortID = strings.TrimSpace(req.CohortID)
	if req.CohortID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("cohort_id is required"))
		return
	}
	if req.Folds <= 0 {
		req.Folds = s.cfg.Folds
	}
	seed := s.cfg.Seed
	if req.Seed != nil {
		seed = *req.Seed
	}
	// Stratifying on a continuous target would put every distinct value in
	// its own stratum, so regression runs default to a plain shuffle.
	stratify := !req.Regression
	if req.Stratify != nil {
		stratify = *req.Stratify
	}
	kind := "crossval"
	if req.Regression {
		kind = "crossval-regression"
	}

	runID := uuid.NewString()
	if err := s.runRepo.CreateRun(r.Context(), models.Run{
		RunID: runID, CohortID: req.CohortID, Kind: kind, Status: "pending",
	}); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "crossval-" + runID,
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.CrossValidationWorkflow, workflows.CrossValidationInput{
		RunID:     runID,
		CohortID:  req.CohortID,
		TablePath: filepath.Join(s.cfg.SlideInRoot, req.CohortID, "cohort.csv"),
		Folds:     req.Folds,
		Seed:      seed,
		Stratify:  stratify,
		Train: cv.TrainParams{
			InputDim:          s.cfg.EmbedDim,
			HiddenDim:         s.cfg.HiddenDim,
			AttnDim:           s.cfg.AttnDim,
			Epochs:            s.cfg.Epochs,
			BatchSize:         s.cfg.BatchSize,
			MaxBagSize:        s.cfg.MaxBagSize,
			LearnRate:         s.cfg.LearnRate,
			ClipNorm:          5,
			Seed:              seed,
			Regression:        req.Regression,
			DivergenceRetries: 3,
		},
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID, "workflow_id": we.GetID(), "workflow_run_id": we.GetRunID()})
}

func (s *Server) handleRunsScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/runs/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	runID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		run, err := s.runRepo.GetRun(r.Context(), runID)
		if err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	switch parts[1] {
	case "progress":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var prog workflows.CrossValidationProgress
		resp, err := s.temporal.QueryWorkflow(r.Context(), "crossval-"+runID, "", workflows.QueryGetRunProgress)
		if err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		if err := resp.Get(&prog); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, prog)
	case "predictions":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		preds, err := s.predRepo.ListPredictionsByRun(r.Context(), runID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"predictions": preds})
	case "manifest":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		path := filepath.Join(s.cfg.CheckpointRoot, runID, "manifest.json")
		b, err := os.ReadFile(path)
		if err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func saveUploadedFile(dstDir string, fh *multipart.FileHeader) (digest, path string, err error) {
	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*.slide.json")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), src); err != nil {
		return "", "", fmt.Errorf("write upload: %w", err)
	}

	digest = fmt.Sprintf("%x", h.Sum(nil))
	safeName := filepath.Base(fh.Filename)
	finalPath := filepath.Join(dstDir, safeName)
	if err := tmp.Close(); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", "", fmt.Errorf("atomic move upload: %w", err)
	}

	return digest, finalPath, nil
}

func firstSingleFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "PF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "PF-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "PF-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "PF-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "PF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "PF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "PF-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "PF-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "name is required"):
			msg = "Cohort name is required."
		case strings.Contains(low, "cohort_id is required"):
			msg = "A cohort id is required."
		case strings.Contains(low, "no files provided"):
			msg = "No slide files were provided."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
