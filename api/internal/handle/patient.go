package handle

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"medist/api/internal/store"
)

type patientView struct {
	store.PatientInfo
	FullName string `json:"fullName"`
	Initials string `json:"initials"`
}

func (h *Handle) Patient(w http.ResponseWriter, r *http.Request) {
	p, err := h.src.Patient(r.Context())
	if err != nil {
		h.sourceError(w, "patient", err)
		return
	}
	writeJSON(w, http.StatusOK, patientView{PatientInfo: p, FullName: p.FullName(), Initials: p.Initials()})
}

func (h *Handle) Records(w http.ResponseWriter, r *http.Request) {
	recs, err := h.src.Records(r.Context())
	if err != nil {
		h.sourceError(w, "records", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handle) Vitals(w http.ResponseWriter, r *http.Request) {
	v, err := h.src.Vitals(r.Context())
	if err != nil {
		h.sourceError(w, "vitals", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handle) sourceError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", what+" not found")
		return
	}
	h.log.Error("data source failed", zap.String("what", what), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", what+" unavailable")
}
