package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"

	"medist/api/internal/analysis"
)

var png = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func newTestEngine(t *testing.T, h http.HandlerFunc) *Engine {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := goopenai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewWithConfig(cfg, "gpt-4o-mini")
}

func chatReply(content, finish string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
	})
	return string(b)
}

func TestGenerateSendsImageAndSchema(t *testing.T) {
	var body map[string]any
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatReply(`{"summary":"ok","keyFindings":[],"abnormalValues":[],"riskScore":3,"recommendations":[]}`, "stop"))
	})

	schema := analysis.Schema()
	out, err := e.Generate(context.Background(), analysis.Request{
		Document: analysis.Document{MIMEType: "image/png", Data: png},
		Prompt:   analysis.Prompt,
		Schema:   schema,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(out, `"riskScore":3`) {
		t.Fatalf("out = %s", out)
	}

	if body["model"] != "gpt-4o-mini" {
		t.Fatalf("model = %v", body["model"])
	}
	rf := body["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Fatalf("response_format = %v", rf)
	}
	js := rf["json_schema"].(map[string]any)
	if js["name"] != schemaName || js["strict"] != true {
		t.Fatalf("json_schema = %v", js)
	}
	sent := js["schema"].(map[string]any)
	if sent["additionalProperties"] != false || len(sent["required"].([]any)) != 5 {
		t.Fatalf("schema not strict: %v", sent)
	}
	if _, touched := schema["additionalProperties"]; touched {
		t.Fatal("caller's schema was mutated")
	}

	msgs := body["messages"].([]any)
	parts := msgs[0].(map[string]any)["content"].([]any)
	img := parts[0].(map[string]any)["image_url"].(map[string]any)
	if !strings.HasPrefix(img["url"].(string), "data:image/png;base64,") {
		t.Fatalf("image url = %v", img["url"])
	}
	if parts[1].(map[string]any)["text"] != analysis.Prompt {
		t.Fatalf("prompt part = %v", parts[1])
	}
}

func TestGenerateRejectsPDF(t *testing.T) {
	called := false
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	_, err := e.Generate(context.Background(), analysis.Request{
		Document: analysis.Document{MIMEType: "application/pdf", Data: []byte("%PDF-1.4")},
		Schema:   analysis.Schema(),
	})
	if analysis.KindOf(err) != analysis.KindInvalidInput {
		t.Fatalf("kind = %q (err %v)", analysis.KindOf(err), err)
	}
	if called {
		t.Fatal("request sent for unsupported document")
	}
}

func TestGenerateErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   analysis.Kind
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, analysis.KindCapabilityRejected},
		{"auth", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`, analysis.KindCapabilityRejected},
		{"server", http.StatusBadGateway, `upstream down`, analysis.KindTransportFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := e.Generate(context.Background(), analysis.Request{
				Document: analysis.Document{MIMEType: "image/png", Data: png},
				Schema:   analysis.Schema(),
			})
			if got := analysis.KindOf(err); got != tc.want {
				t.Fatalf("kind = %q, want %q (err %v)", got, tc.want, err)
			}
		})
	}
}

func TestGenerateContentFilter(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatReply("", "content_filter"))
	})
	_, err := e.Generate(context.Background(), analysis.Request{
		Document: analysis.Document{MIMEType: "image/png", Data: png},
		Schema:   analysis.Schema(),
	})
	if analysis.KindOf(err) != analysis.KindCapabilityRejected {
		t.Fatalf("kind = %q (err %v)", analysis.KindOf(err), err)
	}
}

func TestGenerateEmptyContent(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatReply("  ", "stop"))
	})
	_, err := e.Generate(context.Background(), analysis.Request{
		Document: analysis.Document{MIMEType: "image/png", Data: png},
		Schema:   analysis.Schema(),
	})
	if analysis.KindOf(err) != analysis.KindMalformedResponse {
		t.Fatalf("kind = %q (err %v)", analysis.KindOf(err), err)
	}
}

func TestClientEndToEnd(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatReply(`{"summary":"Lipids high","keyFindings":["LDL 190"],"abnormalValues":["LDL"],"riskScore":8,"recommendations":["Statin review"]}`, "stop"))
	})
	res, err := analysis.NewClient(e).Analyze(context.Background(), analysis.Document{MIMEType: "image/png", Data: png})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.RiskScore != 8 || res.Band() != analysis.BandHigh || len(res.Recommendations) != 1 {
		t.Fatalf("res = %#v", res)
	}
}
