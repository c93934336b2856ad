package handle

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"medist/api/internal/analysis"
	"medist/api/internal/util"
)

type AnalyzeRequest struct {
	LLMName  string `json:"llm_name"`
	Name     string `json:"name,omitempty"`
	FileB64  string `json:"file_b64"`
	MIMEType string `json:"mime_type,omitempty"`
}

// Analyze runs one document through an engine and answers synchronously.
func (h *Handle) Analyze(w http.ResponseWriter, r *http.Request) {
	// base64 grows the payload by a third
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload*4/3+4096)

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, string(analysis.KindInvalidInput), "document is too large")
			return
		}
		writeError(w, http.StatusBadRequest, string(analysis.KindInvalidInput), "bad json: "+err.Error())
		return
	}

	data, urlMIME, err := util.DecodeBase64MaybeDataURL(req.FileB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(analysis.KindInvalidInput), "bad file_b64")
		return
	}
	if int64(len(data)) > h.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, string(analysis.KindInvalidInput), "document is too large")
		return
	}

	client, err := h.engs.GetEngine(req.LLMName)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(analysis.KindInvalidInput), err.Error())
		return
	}

	mime := strings.TrimSpace(req.MIMEType)
	if mime == "" {
		mime = urlMIME
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := client.Analyze(ctx, analysis.Document{Name: req.Name, MIMEType: mime, Data: data})
	if err != nil {
		h.log.Debug("analyze request failed", zap.String("engine", client.Engine()), zap.Error(err))
		h.writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(res))
}
