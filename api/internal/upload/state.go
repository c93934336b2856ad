package upload

import (
	"time"

	"medist/api/internal/analysis"
)

// Phase is the step of the upload flow a controller is in.
type Phase string

const (
	Idle      Phase = "idle"
	Analyzing Phase = "analyzing"
	Succeeded Phase = "succeeded"
	Failed    Phase = "failed"
)

func (p Phase) Terminal() bool { return p == Succeeded || p == Failed }

// DocumentInfo describes the document under analysis without its bytes.
type DocumentInfo struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mimeType"`
	Size     int    `json:"size"`
}

func describe(d analysis.Document) *DocumentInfo {
	return &DocumentInfo{Name: d.Name, MIMEType: d.MIMEType, Size: len(d.Data)}
}

// Failure is the reason carried by the Failed phase.
type Failure struct {
	Kind    analysis.Kind `json:"kind"`
	Message string        `json:"message"`
}

// Snapshot is an immutable view of controller state.
// Document is set while Analyzing, Result when Succeeded, Failure when Failed.
type Snapshot struct {
	Phase     Phase            `json:"phase"`
	Seq       uint64           `json:"seq"`
	Document  *DocumentInfo    `json:"document,omitempty"`
	Result    *analysis.Result `json:"result,omitempty"`
	Failure   *Failure         `json:"failure,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}
