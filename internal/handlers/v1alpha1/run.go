package v1alpha1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	api "github.com/expenseops/expense-validator/api/v1alpha1"
	"github.com/expenseops/expense-validator/internal/handlers/validator"
	"github.com/expenseops/expense-validator/internal/packaging"
	"github.com/expenseops/expense-validator/internal/pipeline"
	"github.com/expenseops/expense-validator/internal/service"
	"github.com/expenseops/expense-validator/internal/service/mappers"
)

const maxUploadSize = 32 << 20 // 32MB

type ServiceHandler struct {
	runSrv *service.RunService
}

func NewServiceHandler(runService *service.RunService) *ServiceHandler {
	return &ServiceHandler{runSrv: runService}
}

// runUploadForm collects the optional run parameters sent alongside the file.
type runUploadForm struct {
	ReferenceDate string `validate:"iso_date"`
	RoundingMode  string `validate:"rounding_mode"`
}

// (POST /api/v1/runs)
func (s *ServiceHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		renderError(w, r, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "missing expense file")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "failed to read expense file")
		return
	}

	form := runUploadForm{
		ReferenceDate: r.FormValue("reference_date"),
		RoundingMode:  r.FormValue("rounding_mode"),
	}

	v := validator.NewValidator()
	v.Register(validator.NewRunValidationRules()...)
	if err := v.Struct(form); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	costCenters, err := parseCostCenters(r.FormValue("cost_centers"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "malformed cost_centers mapping: "+err.Error())
		return
	}

	run, err := s.runSrv.CreateRun(r.Context(), mappers.RunCreateForm{
		ID:            uuid.New(),
		Filename:      header.Filename,
		Content:       content,
		ReferenceDate: form.ReferenceDate,
		RoundingMode:  form.RoundingMode,
		CostCenters:   costCenters,
	})
	if err != nil {
		switch err.(type) {
		case *service.ErrFileCorrupted:
			renderError(w, r, http.StatusBadRequest, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, "failed to create run")
		}
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.CreateRunReply{
		Id:       run.ID,
		Filename: run.Filename,
		Status:   api.StringToRunStatus(run.Status),
	})
}

// (GET /api/v1/runs)
func (s *ServiceHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := &service.RunFilter{Status: r.URL.Query().Get("status")}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			renderError(w, r, http.StatusBadRequest, "malformed limit: "+raw)
			return
		}
		filter.Limit = limit
	}

	runs, err := s.runSrv.ListRuns(r.Context(), filter)
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, "failed to list runs")
		return
	}

	render.JSON(w, r, mappers.RunListToApi(runs))
}

// (GET /api/v1/runs/{id})
func (s *ServiceHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := s.runSrv.GetRun(r.Context(), id)
	if err != nil {
		switch err.(type) {
		case *service.ErrResourceNotFound:
			renderError(w, r, http.StatusNotFound, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, "failed to get run")
		}
		return
	}

	render.JSON(w, r, mappers.RunToApi(*run))
}

// (DELETE /api/v1/runs/{id})
func (s *ServiceHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	if err := s.runSrv.DeleteRun(r.Context(), id); err != nil {
		renderError(w, r, http.StatusInternalServerError, "failed to delete run")
		return
	}

	render.JSON(w, r, struct{}{})
}

// (PUT /api/v1/runs/{id}/answers)
func (s *ServiceHandler) SubmitAnswers(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	var req api.RunAnswersRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "malformed answers body")
		return
	}

	v := validator.NewValidator()
	v.Register(validator.NewAnswerValidationRules()...)
	if err := v.Struct(req); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	report, status, err := s.runSrv.SubmitAnswers(r.Context(), id, mappers.AnswersFromApi(req.Answers))
	if err != nil {
		renderRunStateError(w, r, err)
		return
	}

	render.JSON(w, r, mappers.ReportToApi(report, status))
}

// (POST /api/v1/runs/{id}/skip)
func (s *ServiceHandler) SkipAllPrompts(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	report, status, err := s.runSrv.SkipAllPrompts(r.Context(), id)
	if err != nil {
		renderRunStateError(w, r, err)
		return
	}

	render.JSON(w, r, mappers.ReportToApi(report, status))
}

// (GET /api/v1/runs/{id}/artifacts/{kind})
func (s *ServiceHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	kind := chi.URLParam(r, "kind")
	if kind != pipeline.ArtifactValid && kind != pipeline.ArtifactErrors {
		renderError(w, r, http.StatusNotFound, "unknown artifact kind: "+kind)
		return
	}

	content, filename, err := s.runSrv.GetArtifact(r.Context(), id, kind)
	if err != nil {
		switch err.(type) {
		case *service.ErrResourceNotFound, *service.ErrArtifactNotFound:
			renderError(w, r, http.StatusNotFound, err.Error())
		case *service.ErrArtifactNotReady:
			renderError(w, r, http.StatusConflict, err.Error())
		default:
			renderError(w, r, http.StatusInternalServerError, "failed to fetch artifact")
		}
		return
	}

	w.Header().Set("Content-Type", packaging.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "malformed run id")
		return uuid.UUID{}, false
	}
	return id, true
}

func parseCostCenters(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	costCenters := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &costCenters); err != nil {
		return nil, err
	}
	return costCenters, nil
}

func renderRunStateError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *service.ErrResourceNotFound
	var notWaiting *service.ErrRunNotWaiting
	switch {
	case errors.As(err, &notFound):
		renderError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &notWaiting):
		renderError(w, r, http.StatusConflict, err.Error())
	default:
		renderError(w, r, http.StatusInternalServerError, "failed to update run")
	}
}

func renderError(w http.ResponseWriter, r *http.Request, code int, message string) {
	render.Status(r, code)
	render.JSON(w, r, api.Error{Message: message})
}
