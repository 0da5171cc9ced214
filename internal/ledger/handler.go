package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cloudcoffee/roastery/internal/platform/httpx"
	"github.com/cloudcoffee/roastery/internal/shared"
)

// Handler wires the JSON endpoints backed by the ledger service.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.handleDashboard)
	r.Get("/beans", h.handleListBeans)
	r.Get("/beans/{name}/stock", h.handleGetStock)
	r.Get("/transactions", h.handleListTransactions)
	r.Post("/receipts", h.handleReceive)
	r.Post("/roasts", h.handleConsume)
	r.Post("/stocktakes", h.handleCorrect)
}

type receiveRequest struct {
	Name    string  `json:"name" validate:"required"`
	Origin  string  `json:"origin"`
	Process string  `json:"process"`
	Weight  float64 `json:"weight" validate:"gte=0"`
	Ref     string  `json:"ref" validate:"omitempty,uuid"`
}

type consumeRequest struct {
	Name   string  `json:"name" validate:"required"`
	Weight float64 `json:"weight" validate:"gte=0"`
	Ref    string  `json:"ref" validate:"omitempty,uuid"`
}

type correctRequest struct {
	Name         string  `json:"name" validate:"required"`
	ActualWeight float64 `json:"actual_weight" validate:"gte=0"`
	Ref          string  `json:"ref" validate:"omitempty,uuid"`
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.GetOverview(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *Handler) handleListBeans(w http.ResponseWriter, r *http.Request) {
	beans, err := h.service.ListBeans(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"beans": beans})
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	bean, err := h.service.GetStock(r.Context(), name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bean)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	txns, err := h.service.ListTransactions(r.Context(), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Receive(r.Context(), ReceiveInput{
		Name:    req.Name,
		Origin:  req.Origin,
		Process: req.Process,
		Weight:  req.Weight,
		Ref:     req.Ref,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Consume(r.Context(), ConsumeInput{
		Name:   req.Name,
		Weight: req.Weight,
		Ref:    req.Ref,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Correct(r.Context(), CorrectInput{
		Name:         req.Name,
		ActualWeight: req.ActualWeight,
		Ref:          req.Ref,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// decode parses and validates the request body, writing the problem response
// itself when the payload is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fieldErrs[0].Field()+" is invalid")
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request")
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNameRequired), errors.Is(err, ErrInvalidWeight), errors.Is(err, ErrInvalidRef):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrBeanNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrBeanExists), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
