package query

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/failure"
)

// Handler serves the views over HTTP.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a Handler for service.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// NewRouter returns a router with every route registered.
func (h *Handler) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", h.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/views/{view}", h.HandleView).Methods(http.MethodGet)
	return r
}

type response struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// HandleHealth pings the database.
// Endpoint: GET /api/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.store.DB().PingContext(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "ok", Data: map[string]string{"database": "ok"}})
}

// HandleView answers one view.
// Endpoint: GET /api/views/{view}?min_date=&date=&country=&n=
func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	params, err := ParseParams(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	data, err := h.service.View(r.Context(), mux.Vars(r)["view"], params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "ok", Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Kind == failure.KindQuery {
		writeJSON(w, http.StatusBadRequest, response{
			Status: "error",
			Error:  &errorBody{Code: fe.Kind.String(), Message: fe.Message, Details: fe.Details},
		})
		return
	}
	h.logger.Error("view failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, response{
		Status: "error",
		Error:  &errorBody{Code: "internal", Message: "internal error"},
	})
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
