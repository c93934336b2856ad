package handle

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"medist/api/internal/analysis"
	"medist/api/internal/upload"
)

type CreateSessionRequest struct {
	LLMName string `json:"llm_name"`
}

type sessionView struct {
	SessionID  string          `json:"session_id"`
	State      upload.Snapshot `json:"state"`
	Band       analysis.Band   `json:"band,omitempty"`
	Disclaimer string          `json:"disclaimer,omitempty"`
}

func viewSession(id string, s upload.Snapshot) sessionView {
	v := sessionView{SessionID: id, State: s}
	if s.Result != nil {
		v.Band = s.Result.Band()
		v.Disclaimer = analysis.Disclaimer
	}
	return v
}

// CreateSession opens an upload session bound to one engine.
func (h *Handle) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, string(analysis.KindInvalidInput), "bad json: "+err.Error())
			return
		}
	}
	client, err := h.engs.GetEngine(req.LLMName)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(analysis.KindInvalidInput), err.Error())
		return
	}

	id := h.newID()
	c, err := h.sessions.Open(id, client)
	switch {
	case errors.Is(err, upload.ErrTooManySessions):
		h.log.Warn("session refused", zap.Int("live", h.sessions.Len()))
		writeError(w, http.StatusServiceUnavailable, "too_many_sessions", "session limit reached, try again later")
		return
	case err != nil:
		writeError(w, http.StatusConflict, "conflict", "session id collision")
		return
	}
	h.log.Info("session created", zap.String("session", id), zap.String("engine", client.Engine()))
	writeJSON(w, http.StatusCreated, viewSession(id, c.State()))
}

func (h *Handle) session(w http.ResponseWriter, r *http.Request) (string, *upload.Controller, bool) {
	id := chi.URLParam(r, "id")
	c, ok := h.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return id, nil, false
	}
	return id, c, true
}

func (h *Handle) GetSession(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewSession(id, c.State()))
}

// Upload submits a multipart "file" to the session. It answers 202 with the
// Analyzing snapshot, or with the terminal snapshot when wait=true.
func (h *Handle) Upload(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, string(analysis.KindInvalidInput), "document is too large")
			return
		}
		writeError(w, http.StatusBadRequest, string(analysis.KindInvalidInput), "expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, string(analysis.KindInvalidInput), "missing file field")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(analysis.KindInvalidInput), "could not read file")
		return
	}
	if int64(len(data)) > h.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, string(analysis.KindInvalidInput), "document is too large")
		return
	}

	doc := analysis.Document{Name: hdr.Filename, MIMEType: hdr.Header.Get("Content-Type"), Data: data}
	if !c.Submit(doc) {
		writeJSON(w, http.StatusConflict, viewSession(id, c.State()))
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		s, err := c.Wait(r.Context())
		if err != nil {
			// client went away; the analysis keeps running
			return
		}
		writeJSON(w, http.StatusOK, viewSession(id, s))
		return
	}
	writeJSON(w, http.StatusAccepted, viewSession(id, c.State()))
}

func (h *Handle) ResetSession(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	c.Reset()
	writeJSON(w, http.StatusOK, viewSession(id, c.State()))
}

func (h *Handle) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.sessions.Drop(id) {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	h.log.Info("session dropped", zap.String("session", id))
	w.WriteHeader(http.StatusNoContent)
}
