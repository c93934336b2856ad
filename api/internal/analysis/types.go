package analysis

import (
	"context"
	"math"
)

// Document is an uploaded report handed to the analysis capability.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Result is a validated analysis of one medical document.
type Result struct {
	Summary         string   `json:"summary"`
	KeyFindings     []string `json:"keyFindings"`
	AbnormalValues  []string `json:"abnormalValues"`
	RiskScore       float64  `json:"riskScore"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Band groups a risk score the way the result view colours it.
type Band string

const (
	BandLow      Band = "low"
	BandElevated Band = "elevated"
	BandHigh     Band = "high"
)

func (r Result) Band() Band {
	switch {
	case r.RiskScore > 7:
		return BandHigh
	case r.RiskScore > 4:
		return BandElevated
	default:
		return BandLow
	}
}

const (
	MinRiskScore = 1
	MaxRiskScore = 10
)

func validRiskScore(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= MinRiskScore && v <= MaxRiskScore
}

// Request is a single structured-output call to a capability.
type Request struct {
	Document Document
	Prompt   string
	// Schema is a JSON schema document; capabilities may not mutate it.
	Schema map[string]any
}

// Capability is a remote generative model able to read a document and
// answer with JSON text constrained by Request.Schema.
//
// Implementations return *Error for failures they can classify
// (rejections, malformed envelopes); anything else is a transport failure.
type Capability interface {
	Name() string
	Model() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Disclaimer accompanies every rendered result.
const Disclaimer = "Medist AI analysis is for informational purposes only and is not a substitute for professional medical advice, diagnosis, or treatment. Always seek the advice of your physician or other qualified health provider with any questions you may have regarding a medical condition."
