package handle

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"medist/api/internal/analysis"
	"medist/api/internal/store"
	"medist/api/internal/upload"
)

type Handle struct {
	engs     *analysis.Engines
	sessions *upload.Manager
	src      store.Source
	log      *zap.Logger

	maxUpload int64
	timeout   time.Duration
	newID     func() string
}

type Limits struct {
	MaxUploadBytes  int64
	AnalysisTimeout time.Duration
}

func New(engs *analysis.Engines, sessions *upload.Manager, src store.Source, log *zap.Logger, lim Limits, newID func() string) *Handle {
	if log == nil {
		log = zap.NewNop()
	}
	if lim.MaxUploadBytes <= 0 {
		lim.MaxUploadBytes = 10 << 20
	}
	if lim.AnalysisTimeout <= 0 {
		lim.AnalysisTimeout = upload.DefaultTimeout
	}
	return &Handle{
		engs:      engs,
		sessions:  sessions,
		src:       src,
		log:       log,
		maxUpload: lim.MaxUploadBytes,
		timeout:   lim.AnalysisTimeout,
		newID:     newID,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, errorBody{Error: errorDetail{Kind: kind, Message: msg}})
}

// StatusFor maps an analysis failure kind to the HTTP status clients see.
func StatusFor(k analysis.Kind) int {
	switch k {
	case analysis.KindInvalidInput:
		return http.StatusBadRequest
	case analysis.KindMalformedResponse:
		return http.StatusBadGateway
	case analysis.KindCapabilityRejected:
		return http.StatusFailedDependency
	case analysis.KindTransportFailure:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeAnalysisError reports an Analyze failure. Transport details stay in
// the log; the client gets the kind and a fixed message.
func (h *Handle) writeAnalysisError(w http.ResponseWriter, err error) {
	kind := analysis.KindOf(err)
	msg := upload.Message(kind)
	if ae, ok := analysis.AsError(err); ok && kind == analysis.KindInvalidInput && ae.Msg != "" {
		msg = ae.Msg
	}
	writeError(w, StatusFor(kind), string(kind), msg)
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// resultView is a Result as the presentation layer shows it.
type resultView struct {
	analysis.Result
	Band       analysis.Band `json:"band"`
	Disclaimer string        `json:"disclaimer"`
}

func viewOf(r analysis.Result) resultView {
	return resultView{Result: r, Band: r.Band(), Disclaimer: analysis.Disclaimer}
}
