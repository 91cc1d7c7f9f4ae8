package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/interviewd/internal/resume"
	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/storage"
)

type createInterviewRequest struct {
	Title  storage.Title   `json:"title"`
	Skills []storage.Skill `json:"skills"`
}

type appendMessageRequest struct {
	MessageID string       `json:"messageId"`
	Role      storage.Role `json:"role"`
	Content   string       `json:"content"`
}

type setStatusRequest struct {
	Status storage.Status `json:"status"`
}

// ownerSession resolves the caller's session, writing the error response on failure.
func ownerSession(deps Deps, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := deps.Host.Get(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, deps.Logger, err)
		return nil, false
	}
	return sess, true
}

// interviewIDParam validates the path parameter before any session work.
func interviewIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "interviewId")
	if id == "" {
		httpError(w, http.StatusNotFound, "not_found_error", "interview id is required")
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid interview id %q", id)
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleListInterviews(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := ownerSession(deps, w, r)
		if !ok {
			return
		}
		list, err := sess.ListInterviews(r.Context())
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleCreateInterview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createInterviewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(string(req.Title)) == "" || len(req.Skills) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Invalid input")
			return
		}

		sess, ok := ownerSession(deps, w, r)
		if !ok {
			return
		}
		id, err := sess.CreateInterview(r.Context(), req.Title, req.Skills)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "interviewId": id})
	}
}

// handleGetOrStream serves the interview detail, or upgrades to a live stream when the
// request asks for a websocket.
func handleGetOrStream(deps Deps) http.HandlerFunc {
	stream := handleStream(deps)
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := interviewIDParam(w, r)
		if !ok {
			return
		}
		if isWebsocketUpgrade(r) {
			stream(w, r, id)
			return
		}

		sess, ok := ownerSession(deps, w, r)
		if !ok {
			return
		}
		detail, err := sess.GetInterview(r.Context(), id)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func handleSetStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := interviewIDParam(w, r)
		if !ok {
			return
		}
		var req setStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sess, ok := ownerSession(deps, w, r)
		if !ok {
			return
		}
		if err := sess.SetStatus(r.Context(), id, req.Status); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleAppendMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := interviewIDParam(w, r)
		if !ok {
			return
		}
		var req appendMessageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.MessageID == "" {
			req.MessageID = uuid.New().String()
		}

		sess, ok := ownerSession(deps, w, r)
		if !ok {
			return
		}
		msg, err := sess.AppendMessage(r.Context(), storage.NewMessage{
			InterviewID: id,
			MessageID:   req.MessageID,
			Role:        req.Role,
			Content:     req.Content,
		})
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleUploadResume(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := interviewIDParam(w, r)
		if !ok {
			return
		}

		// Leave room for multipart framing around the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, resume.MaxUploadSize+(1<<20))
		if err := r.ParseMultipartForm(resume.MaxUploadSize); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "resume exceeds %d bytes", resume.MaxUploadSize)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, resume.MaxUploadSize+1))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading file: %v", err)
			return
		}
		if len(data) > resume.MaxUploadSize {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "resume exceeds %d bytes", resume.MaxUploadSize)
			return
		}

		text, err := resume.Extract(data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		sess, ok := ownerSession(deps, w, r)
		if !ok {
			return
		}
		msg, err := sess.AppendMessage(r.Context(), storage.NewMessage{
			InterviewID: id,
			MessageID:   uuid.New().String(),
			Role:        storage.RoleSystem,
			Content:     resume.Message(header.Filename, text),
		})
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}
