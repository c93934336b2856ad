package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"medist/api/internal/analysis"
)

type Engine struct {
	APIKey string

	mu    sync.RWMutex
	model string
	opts  []option.ClientOption
}

// New builds an engine; extra options (endpoint, HTTP client) are passed to genai.NewClient.
func New(apiKey, model string, opts ...option.ClientOption) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		model:  strings.TrimSpace(model),
		opts:   opts,
	}
}

func (e *Engine) Name() string { return "gemini" }

func (e *Engine) Model() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

func (e *Engine) SetModel(m string) {
	if m = strings.TrimSpace(m); m == "" {
		return
	}
	e.mu.Lock()
	e.model = m
	e.mu.Unlock()
}

// Generate sends the document and prompt in one generateContent call and
// returns the model's JSON text.
func (e *Engine) Generate(ctx context.Context, req analysis.Request) (string, error) {
	if e.APIKey == "" {
		return "", analysis.Rejected(errors.New("GEMINI_API_KEY is empty"))
	}
	schema, err := ToSchema(req.Schema)
	if err != nil {
		return "", fmt.Errorf("gemini: schema: %w", err)
	}

	opts := append([]option.ClientOption{option.WithAPIKey(e.APIKey)}, e.opts...)
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", classifyErr(fmt.Errorf("gemini: new client: %w", err))
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model())
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	// document first, instruction second
	parts := []genai.Part{
		genai.Blob{MIMEType: req.Document.MIMEType, Data: req.Document.Data},
		genai.Text(req.Prompt),
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classifyErr(fmt.Errorf("gemini: generate: %w", err))
	}
	if reason, blocked := blockedReason(resp); blocked {
		return "", analysis.Rejected(fmt.Errorf("gemini: response blocked: %s", reason))
	}
	txt := firstText(resp)
	if strings.TrimSpace(txt) == "" {
		return "", analysis.Malformed("gemini: empty response", nil)
	}
	return txt, nil
}

func classifyErr(err error) error {
	var be *genai.BlockedError
	if errors.As(err, &be) {
		return analysis.Rejected(err)
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return byHTTPCode(ge.Code, err)
	}
	var ae *apierror.APIError
	if errors.As(err, &ae) {
		if code := ae.HTTPCode(); code > 0 {
			return byHTTPCode(code, err)
		}
		if st := ae.GRPCStatus(); st != nil {
			return byGRPCCode(st.Code(), err)
		}
	}
	if st, ok := status.FromError(err); ok {
		return byGRPCCode(st.Code(), err)
	}
	return analysis.Transport(err)
}

func byHTTPCode(code int, err error) error {
	switch {
	case code == http.StatusRequestTimeout || code >= 500:
		return analysis.Transport(err)
	case code >= 400:
		return analysis.Rejected(err)
	}
	return analysis.Transport(err)
}

func byGRPCCode(c codes.Code, err error) error {
	switch c {
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated,
		codes.ResourceExhausted, codes.FailedPrecondition, codes.NotFound, codes.OutOfRange:
		return analysis.Rejected(err)
	}
	return analysis.Transport(err)
}

func blockedReason(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil {
		return "", false
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != genai.BlockReasonUnspecified {
		return pf.BlockReason.String(), true
	}
	if len(resp.Candidates) == 0 {
		return "", false
	}
	switch fr := resp.Candidates[0].FinishReason; fr {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return fr.String(), true
	}
	return "", false
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
