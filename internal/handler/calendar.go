package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dukerupert/calshare/internal/auth"
	"github.com/dukerupert/calshare/internal/calendar"
	"github.com/dukerupert/calshare/internal/model"
)

type CalendarHandler struct {
	calendars *calendar.Service
	logger    *slog.Logger
}

func NewCalendarHandler(svc *calendar.Service, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{calendars: svc, logger: logger}
}

func (h *CalendarHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.calendars.ListVisible(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []model.Calendar{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createCalendarRequest struct {
	Name string `json:"name"`
}

func (h *CalendarHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCalendarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.calendars.Create(r.Context(), auth.UserID(r.Context()), req.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.calendars.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CalendarHandler) Update(w http.ResponseWriter, r *http.Request) {
	var p calendar.Patch
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.calendars.Update(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CalendarHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.calendars.Delete(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CalendarHandler) AddEvent(w http.ResponseWriter, r *http.Request) {
	var ne calendar.NewEvent
	if err := decodeJSON(w, r, &ne); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.calendars.AddEvent(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), ne)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CalendarHandler) RemoveEventAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid index"})
		return
	}
	c, err := h.calendars.RemoveEvent(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), index)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CalendarHandler) RemoveEvent(w http.ResponseWriter, r *http.Request) {
	c, err := h.calendars.RemoveEventByID(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type memberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *CalendarHandler) SetMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.calendars.SetRole(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), req.Email, role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CalendarHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	c, err := h.calendars.RemoveMember(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ExportICS serves the calendar as an iCalendar file.
func (h *CalendarHandler) ExportICS(w http.ResponseWriter, r *http.Request) {
	c, err := h.calendars.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var buf bytes.Buffer
	if err := calendar.EncodeICS(&buf, c); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.Write(buf.Bytes())
}
