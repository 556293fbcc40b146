package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"libcirc-backend/internal/domain"
	"libcirc-backend/internal/logger"
	"libcirc-backend/internal/security"
	"libcirc-backend/internal/service"

	"github.com/gorilla/mux"
)

// ReservationHandler translates HTTP requests into policy service calls
// and service errors into status codes. It holds no business rules.
type ReservationHandler struct {
	reservationSvc  service.ReservationService
	availabilitySvc service.AvailabilityService
}

func NewReservationHandler(reservationSvc service.ReservationService, availabilitySvc service.AvailabilityService) *ReservationHandler {
	return &ReservationHandler{
		reservationSvc:  reservationSvc,
		availabilitySvc: availabilitySvc,
	}
}

// RegisterRoutes wires all circulation endpoints onto the router.
// Status changes and back-office listings require the admin role.
func RegisterRoutes(router *mux.Router, h *ReservationHandler, tm security.TokenManager) {
	router.Use(AuthMiddleware(tm))

	router.HandleFunc("/reservations", h.CreateReservation).Methods(http.MethodPost)
	router.HandleFunc("/reservations/{id:[0-9]+}", h.GetReservation).Methods(http.MethodGet)
	router.HandleFunc("/reservations/{id:[0-9]+}/cancel", h.CancelReservation).Methods(http.MethodPost)
	router.HandleFunc("/users/{id:[0-9]+}/reservations", h.ListUserReservations).Methods(http.MethodGet)
	router.HandleFunc("/books/{id:[0-9]+}/availability", h.GetAvailability).Methods(http.MethodGet)
	router.HandleFunc("/books/{id:[0-9]+}/can-reserve", h.CanReserve).Methods(http.MethodGet)

	admin := router.PathPrefix("").Subrouter()
	admin.Use(RequireRole(RoleAdmin))
	admin.HandleFunc("/reservations/{id:[0-9]+}/status", h.ChangeStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/reservations", h.ListByStatus).Methods(http.MethodGet)
	admin.HandleFunc("/books/{id:[0-9]+}/reservations", h.ListBookReservations).Methods(http.MethodGet)
}

type createReservationRequest struct {
	BookID int32 `json:"book_id"`
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

type listResponse struct {
	Reservations []domain.Reservation `json:"reservations"`
	TotalCount   int32                `json:"total_count"`
}

func (h *ReservationHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookID <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "book_id is required")
		return
	}

	reservation, err := h.reservationSvc.CreateReservation(r.Context(), claims.UserID, req.BookID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (h *ReservationHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	reservation, err := h.reservationSvc.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	if claims == nil || (reservation.UserID != claims.UserID && !claims.HasRole(RoleAdmin)) {
		writeErrorMessage(w, http.StatusForbidden, "insufficient permissions")
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *ReservationHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, ok := domain.ParseStatus(req.Status)
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "unknown status: "+req.Status)
		return
	}

	reservation, err := h.reservationSvc.ChangeStatus(r.Context(), id, target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *ReservationHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	reservation, err := h.reservationSvc.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if claims == nil || (reservation.UserID != claims.UserID && !claims.HasRole(RoleAdmin)) {
		writeErrorMessage(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	cancelled, err := h.reservationSvc.CancelReservation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

func (h *ReservationHandler) ListUserReservations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	if claims == nil || (id != claims.UserID && !claims.HasRole(RoleAdmin)) {
		writeErrorMessage(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	page, pageSize := pagination(r)
	reservations, count, err := h.reservationSvc.ListByUser(r.Context(), id, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Reservations: reservations, TotalCount: count})
}

func (h *ReservationHandler) ListBookReservations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	page, pageSize := pagination(r)
	reservations, count, err := h.reservationSvc.ListByBook(r.Context(), id, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Reservations: reservations, TotalCount: count})
}

func (h *ReservationHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := domain.ParseStatus(r.URL.Query().Get("status"))
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "status query parameter is required")
		return
	}

	page, pageSize := pagination(r)
	reservations, count, err := h.reservationSvc.ListByStatus(r.Context(), status, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Reservations: reservations, TotalCount: count})
}

func (h *ReservationHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	available, err := h.availabilitySvc.AvailableCopies(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int32{"book_id": id, "available_copies": available})
}

func (h *ReservationHandler) CanReserve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	claims, okClaims := ClaimsFromContext(r.Context())
	if !okClaims {
		writeErrorMessage(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	can, err := h.reservationSvc.CanUserReserveBook(r.Context(), claims.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"can_reserve": can})
}

func pathID(w http.ResponseWriter, r *http.Request) (int32, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "invalid id: "+raw)
		return 0, false
	}
	return int32(id), true
}

func pagination(r *http.Request) (int32, int32) {
	page := int32(1)
	pageSize := int32(20)
	if v, err := strconv.ParseInt(r.URL.Query().Get("page"), 10, 32); err == nil && v > 0 {
		page = int32(v)
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("page_size"), 10, 32); err == nil && v > 0 && v <= 100 {
		pageSize = int32(v)
	}
	return page, pageSize
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the domain error taxonomy onto HTTP status codes.
// Each kind keeps its own message so entry points never show a generic
// failure page for a business-rule violation.
func writeError(w http.ResponseWriter, err error) {
	var invalidTransition *domain.InvalidTransitionError

	switch {
	case errors.Is(err, domain.ErrReservationNotFound), errors.Is(err, domain.ErrBookNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalidTransition):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDuplicateActiveReservation),
		errors.Is(err, domain.ErrNoCopiesAvailable),
		errors.Is(err, domain.ErrConflict):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrCancellationNotAllowed):
		writeErrorMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrTransient):
		writeErrorMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("Unhandled service error", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
