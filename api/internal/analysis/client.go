package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"medist/api/internal/util"
)

var allowedMIME = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/heic":      true,
	"image/heif":      true,
	"application/pdf": true,
}

// Allowed reports whether a (normalised) media type may be analysed.
func Allowed(mime string) bool { return allowedMIME[util.NormalizeMIME(mime)] }

// Observer is notified once per Analyze call. metrics.Collector implements it.
type Observer interface {
	ObserveAnalysis(engine string, kind Kind, elapsed time.Duration)
}

type Client struct {
	cap Capability
	log *zap.Logger
	obs Observer
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.obs = o }
}

func NewClient(c Capability, opts ...Option) *Client {
	cl := &Client{cap: c, log: zap.NewNop()}
	for _, o := range opts {
		o(cl)
	}
	return cl
}

func (c *Client) Engine() string { return c.cap.Name() }

// Analyze sends doc to the capability and validates the answer.
// Every returned error is an *Error.
func (c *Client) Analyze(ctx context.Context, doc Document) (res Result, err error) {
	start := time.Now()
	defer func() {
		kind := KindOf(err)
		if c.obs != nil {
			c.obs.ObserveAnalysis(c.cap.Name(), kind, time.Since(start))
		}
		fields := []zap.Field{
			zap.String("engine", c.cap.Name()),
			zap.String("model", c.cap.Model()),
			zap.String("mime", doc.MIMEType),
			zap.Int("bytes", len(doc.Data)),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			c.log.Warn("analysis failed", append(fields, zap.String("kind", kind.String()), zap.Error(err))...)
			return
		}
		c.log.Info("analysis done", append(fields, zap.Float64("risk_score", res.RiskScore))...)
	}()

	doc, aerr := prepare(doc)
	if aerr != nil {
		return Result{}, aerr
	}

	raw, gerr := c.cap.Generate(ctx, Request{
		Document: doc,
		Prompt:   Prompt,
		Schema:   Schema(),
	})
	if gerr != nil {
		return Result{}, classify(gerr)
	}
	// a late answer after the deadline is not trusted
	if cerr := ctx.Err(); cerr != nil {
		return Result{}, Transport(cerr)
	}

	res, perr := ParseResult(raw)
	if perr != nil {
		return Result{}, perr
	}
	return res, nil
}

func prepare(doc Document) (Document, *Error) {
	if len(doc.Data) == 0 {
		return doc, InvalidInput("empty document")
	}
	doc.MIMEType = util.PickMIME(doc.MIMEType, "", doc.Data)
	if !allowedMIME[doc.MIMEType] {
		return doc, InvalidInput(fmt.Sprintf("unsupported media type %q", doc.MIMEType))
	}
	return doc, nil
}

// wireResult mirrors Result with pointers so absent fields are detectable.
type wireResult struct {
	Summary         *string   `json:"summary"`
	KeyFindings     *[]string `json:"keyFindings"`
	AbnormalValues  []string  `json:"abnormalValues"`
	RiskScore       *float64  `json:"riskScore"`
	Recommendations *[]string `json:"recommendations"`
}

// ParseResult decodes and validates raw capability output.
func ParseResult(raw string) (Result, error) {
	txt := util.StripCodeFences(raw)
	if txt == "" {
		return Result{}, Malformed("empty response", nil)
	}

	var w wireResult
	dec := json.NewDecoder(bytes.NewReader([]byte(txt)))
	if err := dec.Decode(&w); err != nil {
		return Result{}, Malformed("bad JSON", err)
	}
	if dec.More() {
		return Result{}, Malformed("trailing data after JSON object", nil)
	}

	switch {
	case w.Summary == nil || strings.TrimSpace(*w.Summary) == "":
		return Result{}, Malformed("summary is missing", nil)
	case w.KeyFindings == nil:
		return Result{}, Malformed("keyFindings is missing", nil)
	case w.RiskScore == nil:
		return Result{}, Malformed("riskScore is missing", nil)
	case !validRiskScore(*w.RiskScore):
		return Result{}, Malformed(fmt.Sprintf("riskScore %v outside [%d,%d]", *w.RiskScore, MinRiskScore, MaxRiskScore), nil)
	}

	res := Result{
		Summary:        strings.TrimSpace(*w.Summary),
		KeyFindings:    *w.KeyFindings,
		AbnormalValues: w.AbnormalValues,
		RiskScore:      *w.RiskScore,
	}
	if res.AbnormalValues == nil {
		res.AbnormalValues = []string{}
	}
	if w.Recommendations != nil {
		res.Recommendations = *w.Recommendations
	}
	return res, nil
}

// AsError is errors.As for *Error.
func AsError(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}
