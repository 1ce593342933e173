package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeDomainError maps domain errors to statuses; anything else is a 500
// and gets logged by AccessLog.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidKeyboard):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrJobNotWaiting),
		errors.Is(err, domain.ErrNotRefundable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// ---- broadcasts ----

type jobView struct {
	ID              int64           `json:"id"`
	Status          model.JobStatus `json:"status"`
	FireAt          time.Time       `json:"fire_at"`
	SourceChatID    int64           `json:"source_chat_id"`
	SourceMessageID int             `json:"source_message_id"`
	Keyboard        model.Keyboard  `json:"keyboard,omitempty"`
	CreatedBy       int64           `json:"created_by"`
	Cursor          int64           `json:"cursor_user_id"`
	AudienceMax     int64           `json:"audience_max_user_id"`
	Delivered       int             `json:"delivered"`
	Failed          int             `json:"failed"`
	ReclaimCount    int             `json:"reclaim_count"`
	FailReason      string          `json:"fail_reason,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

func toJobView(j *model.BroadcastJob) jobView {
	return jobView{
		ID:              j.ID,
		Status:          j.Status,
		FireAt:          j.FireAt,
		SourceChatID:    j.SourceChatID,
		SourceMessageID: j.SourceMessageID,
		Keyboard:        j.Keyboard,
		CreatedBy:       j.CreatedBy,
		Cursor:          j.CursorUserID,
		AudienceMax:     j.AudienceMaxUserID,
		Delivered:       j.DeliveredCount,
		Failed:          j.FailedCount,
		ReclaimCount:    j.ReclaimCount,
		FailReason:      j.FailReason,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}
}

func (s *Server) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.broadcasts.List(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobView(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	job, stats, err := s.broadcasts.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		jobView
		Outcomes map[model.OutcomeResult]int `json:"outcomes"`
	}{toJobView(job), stats.ByState})
}

type broadcastRequest struct {
	SourceChatID    int64           `json:"source_chat_id"`
	SourceMessageID int             `json:"source_message_id"`
	Keyboard        json.RawMessage `json:"keyboard"`
	FireAt          *time.Time      `json:"fire_at"`
}

func (s *Server) createBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kb, err := model.ParseKeyboard(req.Keyboard)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	draft := model.BroadcastDraft{
		SourceChatID:    req.SourceChatID,
		SourceMessageID: req.SourceMessageID,
		Keyboard:        kb,
	}
	if req.FireAt != nil {
		draft.FireAt = req.FireAt.UTC()
	}
	job, err := s.broadcasts.Schedule(r.Context(), adminFrom(r.Context()).TelegramID, draft)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobView(job))
}

func (s *Server) cancelBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.broadcasts.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- lessons ----

type lessonView struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Price       int64             `json:"price"`
	IsFree      bool              `json:"is_free"`
	Active      bool              `json:"active"`
	ContentType model.ContentType `json:"content_type"`
	ContentRef  string            `json:"content_ref,omitempty"`
	ContentText string            `json:"content_text,omitempty"`
	CategoryID  *int64            `json:"category_id,omitempty"`
}

func toLessonView(l *model.Lesson) lessonView {
	return lessonView{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Price:       l.Price,
		IsFree:      l.IsFree,
		Active:      l.Active,
		ContentType: l.ContentType,
		ContentRef:  l.ContentRef,
		ContentText: l.ContentText,
		CategoryID:  l.CategoryID,
	}
}

func (s *Server) listLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := s.lessons.ListAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]lessonView, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, toLessonView(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createLesson(w http.ResponseWriter, r *http.Request) {
	var req lessonView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ContentType == "" {
		req.ContentType = model.ContentText
	}
	l := &model.Lesson{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		IsFree:      req.Price == 0,
		Active:      req.Active,
		ContentType: req.ContentType,
		ContentRef:  req.ContentRef,
		ContentText: req.ContentText,
		CategoryID:  req.CategoryID,
	}
	if err := s.lessons.Create(r.Context(), l); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLessonView(l))
}

func (s *Server) setLessonActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"active\": bool}")
		return
	}
	if err := s.lessons.SetActive(r.Context(), id, *req.Active); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- purchases & stats ----

func (s *Server) refundPurchase(w http.ResponseWriter, r *http.Request) {
	charge := chi.URLParam(r, "charge")
	if charge == "" {
		writeError(w, http.StatusBadRequest, "missing charge id")
		return
	}
	p, err := s.payments.Refund(r.Context(), charge)
	if err != nil {
		s.log.Warn().Err(err).Str("charge_id", charge).Msg("refund via api failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID         int64                `json:"id"`
		ChargeID   string               `json:"charge_id"`
		LessonID   int64                `json:"lesson_id"`
		Amount     int64                `json:"amount"`
		Status     model.PurchaseStatus `json:"status"`
		RefundedAt *time.Time           `json:"refunded_at,omitempty"`
	}{p.ID, p.ChargeID, p.LessonID, p.Amount, p.Status, p.RefundedAt})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	t, err := s.statsUC.Totals(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Users       int   `json:"users"`
		ActiveUsers int   `json:"active_users"`
		Purchases   int   `json:"purchases"`
		Revenue     int64 `json:"revenue_stars"`
	}{t.Users, t.ActiveUsers, t.Purchases, t.Revenue})
}
