package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/core/service"
)

const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	registration *service.RegistrationService
	log          *slog.Logger
}

type DraftPartRequest struct {
	SeriesID    uuid.UUID `json:"seriesId"`
	SupplierID  uuid.UUID `json:"supplierId"`
	Title       string    `json:"title"`
	IsoCategory string    `json:"isoCategory"`
	HmsArtNr    string    `json:"hmsArtNr"`
	LevArtNr    string    `json:"levArtNr"`
	SparePart   bool      `json:"sparePart"`
	Accessory   bool      `json:"accessory"`
}

// UpdatePartRequest changes only the fields that are present.
type UpdatePartRequest struct {
	ExpectedVersion int64               `json:"expectedVersion"`
	Title           *string             `json:"title"`
	IsoCategory     *string             `json:"isoCategory"`
	HmsArtNr        *string             `json:"hmsArtNr"`
	LevArtNr        *string             `json:"levArtNr"`
	SparePart       *bool               `json:"sparePart"`
	Accessory       *bool               `json:"accessory"`
	Status          *domain.Status      `json:"status"`
	DraftStatus     *domain.DraftStatus `json:"draftStatus"`
}

type MainProductRequest struct {
	ProductID uuid.UUID `json:"productId"`
}

type VersionRequest struct {
	ExpectedVersion int64 `json:"expectedVersion"`
}

type ServiceTaskRequest struct {
	SupplierID  uuid.UUID         `json:"supplierId"`
	SupplierRef string            `json:"supplierRef"`
	HmsArtNr    string            `json:"hmsArtNr"`
	IsoCategory string            `json:"isoCategory"`
	Title       string            `json:"title"`
	Published   *time.Time        `json:"published"`
	Expired     *time.Time        `json:"expired"`
	Attributes  domain.Attributes `json:"attributes"`
}

type UpdateServiceTaskRequest struct {
	ExpectedVersion int64              `json:"expectedVersion"`
	SupplierRef     *string            `json:"supplierRef"`
	HmsArtNr        *string            `json:"hmsArtNr"`
	IsoCategory     *string            `json:"isoCategory"`
	Title           *string            `json:"title"`
	Published       *time.Time         `json:"published"`
	Expired         *time.Time         `json:"expired"`
	Attributes      *domain.Attributes `json:"attributes"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(registration *service.RegistrationService, log *slog.Logger) *HTTPHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPHandler{registration: registration, log: log.With(slog.String("component", "http"))}
}

// Routes mounts the API behind auth. /health and /metrics stay open;
// metrics may be nil.
func (h *HTTPHandler) Routes(auth *Authenticator, metrics http.Handler) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/parts", h.CreateDraftPart)
	api.HandleFunc("GET /api/v1/parts/{id}", h.GetPart)
	api.HandleFunc("PUT /api/v1/parts/{id}", h.UpdatePart)
	api.HandleFunc("GET /api/v1/series/{id}", h.GetSeries)
	api.HandleFunc("GET /api/v1/series/{id}/products", h.ListSeriesProducts)
	api.HandleFunc("POST /api/v1/series/{id}/main-product", h.ChangeToMainProduct)
	api.HandleFunc("POST /api/v1/series/{id}/publish", h.PublishSeries)
	api.HandleFunc("POST /api/v1/service-tasks", h.CreateServiceTask)
	api.HandleFunc("GET /api/v1/service-tasks/{id}", h.GetServiceTask)
	api.HandleFunc("PUT /api/v1/service-tasks/{id}", h.UpdateServiceTask)
	api.HandleFunc("POST /api/v1/service-tasks/{id}/{action}", h.ServiceTaskAction)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.Handle("/api/", auth.Middleware(api))
	return mux
}

func (h *HTTPHandler) CreateDraftPart(w http.ResponseWriter, r *http.Request) {
	var req DraftPartRequest
	if !h.decode(w, r, &req) {
		return
	}
	part, err := h.registration.CreateDraftPart(r.Context(), CallerFromContext(r.Context()), service.DraftPartInput{
		SeriesID:    req.SeriesID,
		SupplierID:  req.SupplierID,
		Title:       req.Title,
		IsoCategory: req.IsoCategory,
		HmsArtNr:    req.HmsArtNr,
		LevArtNr:    req.LevArtNr,
		SparePart:   req.SparePart,
		Accessory:   req.Accessory,
	})
	h.respond(w, r, http.StatusCreated, part, err)
}

func (h *HTTPHandler) GetPart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	part, err := h.registration.GetPart(r.Context(), id)
	h.respond(w, r, http.StatusOK, part, err)
}

func (h *HTTPHandler) UpdatePart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdatePartRequest
	if !h.decode(w, r, &req) {
		return
	}
	part, err := h.registration.UpdatePart(r.Context(), CallerFromContext(r.Context()), id, req.ExpectedVersion, func(p *domain.Part) error {
		set(&p.Title, req.Title)
		set(&p.IsoCategory, req.IsoCategory)
		if req.HmsArtNr != nil {
			p.HmsArtNr = domain.ArtNr(*req.HmsArtNr)
		}
		if req.LevArtNr != nil {
			p.LevArtNr = domain.ArtNr(*req.LevArtNr)
		}
		set(&p.SparePart, req.SparePart)
		set(&p.Accessory, req.Accessory)
		set(&p.Status, req.Status)
		set(&p.DraftStatus, req.DraftStatus)
		return nil
	})
	h.respond(w, r, http.StatusOK, part, err)
}

func (h *HTTPHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	series, err := h.registration.GetSeries(r.Context(), id)
	h.respond(w, r, http.StatusOK, series, err)
}

func (h *HTTPHandler) ListSeriesProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	products, err := h.registration.ListSeriesProducts(r.Context(), id)
	h.respond(w, r, http.StatusOK, products, err)
}

func (h *HTTPHandler) ChangeToMainProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req MainProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.registration.ChangeToMainProduct(r.Context(), CallerFromContext(r.Context()), id, req.ProductID)
	if err != nil {
		h.respond(w, r, 0, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) PublishSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req VersionRequest
	if !h.decode(w, r, &req) {
		return
	}
	series, err := h.registration.PublishSeries(r.Context(), CallerFromContext(r.Context()), id, req.ExpectedVersion)
	h.respond(w, r, http.StatusOK, series, err)
}

func (h *HTTPHandler) CreateServiceTask(w http.ResponseWriter, r *http.Request) {
	var req ServiceTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.registration.CreateServiceTask(r.Context(), CallerFromContext(r.Context()), service.ServiceTaskInput{
		SupplierID:  req.SupplierID,
		SupplierRef: req.SupplierRef,
		HmsArtNr:    req.HmsArtNr,
		IsoCategory: req.IsoCategory,
		Title:       req.Title,
		Published:   req.Published,
		Expired:     req.Expired,
		Attributes:  req.Attributes,
	})
	h.respond(w, r, http.StatusCreated, task, err)
}

func (h *HTTPHandler) GetServiceTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := h.registration.GetServiceTask(r.Context(), id)
	h.respond(w, r, http.StatusOK, task, err)
}

func (h *HTTPHandler) UpdateServiceTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateServiceTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.registration.UpdateServiceTask(r.Context(), CallerFromContext(r.Context()), id, req.ExpectedVersion, func(t *domain.ServiceTask) error {
		set(&t.SupplierRef, req.SupplierRef)
		if req.HmsArtNr != nil {
			t.HmsArtNr = domain.ArtNr(*req.HmsArtNr)
		}
		set(&t.IsoCategory, req.IsoCategory)
		set(&t.Title, req.Title)
		if req.Published != nil {
			t.Published = req.Published
		}
		if req.Expired != nil {
			t.Expired = req.Expired
		}
		set(&t.Attributes, req.Attributes)
		return nil
	})
	h.respond(w, r, http.StatusOK, task, err)
}

// ServiceTaskAction handles publish, expire and delete.
func (h *HTTPHandler) ServiceTaskAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var action func(context.Context, domain.Caller, uuid.UUID, int64) (*domain.ServiceTask, error)
	switch r.PathValue("action") {
	case "publish":
		action = h.registration.PublishServiceTask
	case "expire":
		action = h.registration.ExpireServiceTask
	case "delete":
		action = h.registration.DeleteServiceTask
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	var req VersionRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := action(r.Context(), CallerFromContext(r.Context()), id, req.ExpectedVersion)
	h.respond(w, r, http.StatusOK, task, err)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *HTTPHandler) respond(w http.ResponseWriter, r *http.Request, status int, body any, err error) {
	if err != nil {
		code, msg := httpStatus(err)
		if code >= http.StatusInternalServerError {
			h.log.Error("request failed", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		writeError(w, code, msg)
		return
	}
	writeJSON(w, status, body)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
