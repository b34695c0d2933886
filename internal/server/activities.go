package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/breaktime/internal/db"
	"github.com/wesm/breaktime/internal/report"
	"github.com/wesm/breaktime/internal/timeutil"
)

const maxStartBody = 4 << 10

// pathID parses an integer path segment, writing a 400 and
// returning false if it is malformed.
func pathID(
	w http.ResponseWriter, r *http.Request, name string,
) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" id")
		return 0, false
	}
	return v, true
}

// rangeParam returns the "range" query parameter, defaulting to
// today. Unknown names write a 400 and return false.
func rangeParam(
	w http.ResponseWriter, r *http.Request,
) (string, bool) {
	name := r.URL.Query().Get("range")
	if name == "" {
		return timeutil.Today, true
	}
	if !timeutil.IsRange(name) {
		writeError(w, http.StatusBadRequest,
			"invalid range: must be one of "+
				strings.Join(timeutil.RangeNames, ", "))
		return "", false
	}
	return name, true
}

// internalError logs err and writes a generic 500 unless the
// request context ended.
func internalError(w http.ResponseWriter, what string, err error) {
	if handleContextError(w, err) {
		return
	}
	log.Printf("%s error: %v", what, err)
	writeError(w, http.StatusInternalServerError,
		"internal server error")
}

type activityInfo struct {
	Name         string `json:"name"`
	LimitSeconds int64  `json:"limit_seconds"`
	Emoji        string `json:"emoji,omitempty"`
}

func (s *Server) handleListActivities(
	w http.ResponseWriter, _ *http.Request,
) {
	st := s.settings()
	out := make([]activityInfo, 0, len(st.cfg.Activities))
	for _, a := range st.cfg.Activities {
		out = append(out, activityInfo{
			Name:         a.Name,
			LimitSeconds: st.limits.For(a.Name),
			Emoji:        a.Emoji,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activities":    out,
		"default_limit": db.DefaultLimit,
	})
}

type rangeInfo struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (s *Server) handleListRanges(
	w http.ResponseWriter, _ *http.Request,
) {
	st := s.settings()
	out := make([]rangeInfo, 0, len(timeutil.RangeNames))
	for _, name := range timeutil.RangeNames {
		out = append(out, rangeInfo{
			Name:  name,
			Label: st.cfg.RangeLabel(name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ranges": out})
}

type ongoingResponse struct {
	Ongoing db.OngoingActivity `json:"ongoing"`
	Message string             `json:"message"`
}

func (s *Server) handleGetOngoing(
	w http.ResponseWriter, r *http.Request,
) {
	chatID, ok := pathID(w, r, "chat")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user")
	if !ok {
		return
	}
	o, err := s.db.GetOngoing(r.Context(), userID, chatID)
	if err != nil {
		internalError(w, "get ongoing", err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "no ongoing activity")
		return
	}
	writeJSON(w, http.StatusOK, ongoingResponse{
		Ongoing: *o,
		Message: report.FormatOngoing(
			*o, s.settings().loc, s.db.Now(),
		),
	})
}

func (s *Server) handleListOngoing(
	w http.ResponseWriter, r *http.Request,
) {
	chatID, ok := pathID(w, r, "chat")
	if !ok {
		return
	}
	list, err := s.db.ListOngoing(r.Context(), chatID)
	if err != nil {
		internalError(w, "list ongoing", err)
		return
	}
	if list == nil {
		list = []db.OngoingActivity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ongoing": list})
}

type startRequest struct {
	Activity string `json:"activity"`
	FullName string `json:"full_name"`
}

func (s *Server) handleStartActivity(
	w http.ResponseWriter, r *http.Request,
) {
	chatID, ok := pathID(w, r, "chat")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	var req startRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxStartBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	if req.FullName == "" {
		writeError(w, http.StatusBadRequest, "full_name required")
		return
	}
	st := s.settings()
	spec, known := st.cfg.Activity(req.Activity)
	if !known {
		writeError(w, http.StatusBadRequest,
			"unknown activity: "+req.Activity)
		return
	}

	o, err := s.db.StartActivity(
		userID, chatID, spec.Name, req.FullName,
	)
	if errors.Is(err, db.ErrConflict) {
		s.metrics.startConflict()
		s.writeConflict(w, r, st.loc, userID, chatID)
		return
	}
	if err != nil {
		internalError(w, "start activity", err)
		return
	}
	s.metrics.activityStarted(o.Activity)
	writeJSON(w, http.StatusCreated, ongoingResponse{
		Ongoing: o,
		Message: report.FormatStarted(
			o, spec.Emoji, st.limits.For(o.Activity), st.loc,
		),
	})
}

// writeConflict answers a rejected start with the activity that
// is blocking it.
func (s *Server) writeConflict(
	w http.ResponseWriter, r *http.Request, loc *time.Location,
	userID, chatID int64,
) {
	resp := map[string]any{"error": db.ErrConflict.Error()}
	o, err := s.db.GetOngoing(r.Context(), userID, chatID)
	if err != nil {
		log.Printf("conflict lookup error: %v", err)
	}
	if o != nil {
		resp["ongoing"] = o
		resp["message"] = report.FormatOngoing(
			*o, loc, s.db.Now(),
		)
	}
	writeJSON(w, http.StatusConflict, resp)
}

type stopResponse struct {
	Activity db.CompletedActivity `json:"activity"`
	Message  string               `json:"message"`
}

func (s *Server) handleStopActivity(
	w http.ResponseWriter, r *http.Request,
) {
	chatID, ok := pathID(w, r, "chat")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user")
	if !ok {
		return
	}
	st := s.settings()
	a, err := s.db.StopActivity(userID, chatID, st.limits)
	if err != nil {
		internalError(w, "stop activity", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "no ongoing activity")
		return
	}
	s.metrics.activityStopped(a.Activity, a.Overtime)
	var emoji string
	if spec, ok := st.cfg.Activity(a.Activity); ok {
		emoji = spec.Emoji
	}
	writeJSON(w, http.StatusOK, stopResponse{
		Activity: *a,
		Message:  report.FormatStopped(*a, emoji, st.loc),
	})
}

type chatStatsResponse struct {
	Range   string        `json:"range"`
	Label   string        `json:"label"`
	Rows    []db.StatsRow `json:"rows"`
	Message string        `json:"message"`
}

func (s *Server) handleChatStats(
	w http.ResponseWriter, r *http.Request,
) {
	chatID, ok := pathID(w, r, "chat")
	if !ok {
		return
	}
	name, ok := rangeParam(w, r)
	if !ok {
		return
	}
	st := s.settings()
	rows, err := s.db.QueryStats(r.Context(), name, chatID, st.limits)
	if errors.Is(err, timeutil.ErrInvalidRange) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		internalError(w, "chat stats", err)
		return
	}
	label := st.cfg.RangeLabel(name)
	writeJSON(w, http.StatusOK, chatStatsResponse{
		Range:   name,
		Label:   label,
		Rows:    rows,
		Message: report.FormatStats(label, rows),
	})
}

func (s *Server) handleListCompleted(
	w http.ResponseWriter, r *http.Request,
) {
	chatID, ok := pathID(w, r, "chat")
	if !ok {
		return
	}
	name, ok := rangeParam(w, r)
	if !ok {
		return
	}
	list, err := s.db.ActivitiesInRange(r.Context(), name, chatID)
	if err != nil {
		internalError(w, "list activities", err)
		return
	}
	if list == nil {
		list = []db.CompletedActivity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"range":      name,
		"activities": list,
	})
}
