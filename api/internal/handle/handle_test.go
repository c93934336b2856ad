package handle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"medist/api/internal/analysis"
	"medist/api/internal/store"
	"medist/api/internal/upload"
)

type fakeCapability struct {
	out   string
	err   error
	delay time.Duration
}

func (f fakeCapability) Name() string  { return "fake" }
func (f fakeCapability) Model() string { return "fake-1" }
func (f fakeCapability) Generate(ctx context.Context, _ analysis.Request) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.out, f.err
}

const okJSON = `{"summary":"Normal CBC","keyFindings":["WBC normal"],"abnormalValues":[],"riskScore":2}`

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func newTestHandle(t *testing.T, fc fakeCapability) (*Handle, http.Handler) {
	t.Helper()
	client := analysis.NewClient(fc)
	engs := &analysis.Engines{Gemini: client, Default: "gemini"}
	n := 0
	h := New(engs, upload.NewManager(client), store.NewStatic(), nil,
		Limits{MaxUploadBytes: 1 << 10, AnalysisTimeout: time.Second},
		func() string { n++; return "s" + strconv.Itoa(n) })

	r := chi.NewRouter()
	r.Get("/v1/patient", h.Patient)
	r.Get("/v1/records", h.Records)
	r.Get("/v1/vitals", h.Vitals)
	r.Post("/v1/analyze", h.Analyze)
	r.Post("/v1/sessions", h.CreateSession)
	r.Get("/v1/sessions/{id}", h.GetSession)
	r.Delete("/v1/sessions/{id}", h.DeleteSession)
	r.Post("/v1/sessions/{id}/upload", h.Upload)
	r.Post("/v1/sessions/{id}/reset", h.ResetSession)
	return h, r
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, ctype string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func analyzeBody(name, mime string, data []byte) []byte {
	b, _ := json.Marshal(AnalyzeRequest{Name: name, MIMEType: mime, FileB64: base64.StdEncoding.EncodeToString(data)})
	return b
}

func TestAnalyzeOK(t *testing.T) {
	_, r := newTestHandle(t, fakeCapability{out: okJSON})
	rec := do(t, r, "POST", "/v1/analyze", analyzeBody("cbc.jpg", "image/jpeg", jpeg), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	got := decode[resultView](t, rec)
	if got.Summary != "Normal CBC" || got.RiskScore != 2 || got.Band != analysis.BandLow || got.Disclaimer == "" {
		t.Fatalf("view = %+v", got)
	}
}

func TestAnalyzeStatusByKind(t *testing.T) {
	cases := []struct {
		name string
		fc   fakeCapability
		body []byte
		want int
		kind analysis.Kind
	}{
		{"unsupported", fakeCapability{out: okJSON}, analyzeBody("a.txt", "text/plain", []byte("hi")), http.StatusBadRequest, analysis.KindInvalidInput},
		{"empty", fakeCapability{out: okJSON}, analyzeBody("a.jpg", "image/jpeg", nil), http.StatusBadRequest, analysis.KindInvalidInput},
		{"malformed", fakeCapability{out: `{"summary":"x"}`}, analyzeBody("a.jpg", "image/jpeg", jpeg), http.StatusBadGateway, analysis.KindMalformedResponse},
		{"rejected", fakeCapability{err: analysis.Rejected(errors.New("quota"))}, analyzeBody("a.jpg", "image/jpeg", jpeg), http.StatusFailedDependency, analysis.KindCapabilityRejected},
		{"transport", fakeCapability{err: errors.New("connection reset")}, analyzeBody("a.jpg", "image/jpeg", jpeg), http.StatusGatewayTimeout, analysis.KindTransportFailure},
		{"timeout", fakeCapability{out: okJSON, delay: 5 * time.Second}, analyzeBody("a.jpg", "image/jpeg", jpeg), http.StatusGatewayTimeout, analysis.KindTransportFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, r := newTestHandle(t, tc.fc)
			rec := do(t, r, "POST", "/v1/analyze", tc.body, "application/json")
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body)
			}
			if got := decode[errorBody](t, rec); got.Error.Kind != string(tc.kind) || got.Error.Message == "" {
				t.Fatalf("error = %+v", got)
			}
		})
	}
}

func TestAnalyzeBadRequests(t *testing.T) {
	_, r := newTestHandle(t, fakeCapability{out: okJSON})
	if rec := do(t, r, "POST", "/v1/analyze", []byte("{"), "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", rec.Code)
	}
	body, _ := json.Marshal(AnalyzeRequest{FileB64: "***"})
	if rec := do(t, r, "POST", "/v1/analyze", body, "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad base64 status = %d", rec.Code)
	}
	body, _ = json.Marshal(AnalyzeRequest{LLMName: "claude", FileB64: base64.StdEncoding.EncodeToString(jpeg)})
	if rec := do(t, r, "POST", "/v1/analyze", body, "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown engine status = %d", rec.Code)
	}
	if rec := do(t, r, "POST", "/v1/analyze", analyzeBody("big.jpg", "image/jpeg", make([]byte, 2<<10)), "application/json"); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized status = %d", rec.Code)
	}
}

func TestAnalyzeDataURL(t *testing.T) {
	_, r := newTestHandle(t, fakeCapability{out: okJSON})
	body, _ := json.Marshal(AnalyzeRequest{FileB64: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)})
	if rec := do(t, r, "POST", "/v1/analyze", body, "application/json"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
}

func multipartFile(t *testing.T, name, ctype string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	hdr.Set("Content-Type", ctype)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

func TestSessionLifecycle(t *testing.T) {
	h, r := newTestHandle(t, fakeCapability{out: okJSON})

	rec := do(t, r, "POST", "/v1/sessions", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body)
	}
	created := decode[sessionView](t, rec)
	if created.SessionID != "s1" || created.State.Phase != upload.Idle {
		t.Fatalf("created = %+v", created)
	}

	body, ctype := multipartFile(t, "cbc.jpg", "image/jpeg", jpeg)
	rec = do(t, r, "POST", "/v1/sessions/s1/upload?wait=true", body, ctype)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d body %s", rec.Code, rec.Body)
	}
	done := decode[sessionView](t, rec)
	if done.State.Phase != upload.Succeeded || done.State.Result.Summary != "Normal CBC" || done.Band != analysis.BandLow {
		t.Fatalf("upload = %+v", done)
	}

	rec = do(t, r, "GET", "/v1/sessions/s1", nil, "")
	if got := decode[sessionView](t, rec); got.State.Phase != upload.Succeeded {
		t.Fatalf("get = %+v", got)
	}

	rec = do(t, r, "POST", "/v1/sessions/s1/reset", nil, "")
	if got := decode[sessionView](t, rec); got.State.Phase != upload.Idle || got.State.Result != nil {
		t.Fatalf("reset = %+v", got)
	}

	if rec = do(t, r, "DELETE", "/v1/sessions/s1", nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec = do(t, r, "GET", "/v1/sessions/s1", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", rec.Code)
	}
	if h.sessions.Len() != 0 {
		t.Fatalf("sessions = %d", h.sessions.Len())
	}
}

func TestUploadWhileAnalyzing(t *testing.T) {
	_, r := newTestHandle(t, fakeCapability{out: okJSON, delay: 300 * time.Millisecond})
	do(t, r, "POST", "/v1/sessions", []byte(`{"llm_name":"gemini"}`), "application/json")

	body, ctype := multipartFile(t, "first.jpg", "image/jpeg", jpeg)
	rec := do(t, r, "POST", "/v1/sessions/s1/upload", body, ctype)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first upload = %d body %s", rec.Code, rec.Body)
	}
	if got := decode[sessionView](t, rec); got.State.Phase != upload.Analyzing || got.State.Document.Name != "first.jpg" {
		t.Fatalf("first upload state = %+v", got.State)
	}

	body, ctype = multipartFile(t, "second.jpg", "image/jpeg", jpeg)
	rec = do(t, r, "POST", "/v1/sessions/s1/upload", body, ctype)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second upload = %d", rec.Code)
	}
	if got := decode[sessionView](t, rec); got.State.Document.Name != "first.jpg" {
		t.Fatalf("second upload changed document: %+v", got.State.Document)
	}
}

func TestUploadUnsupportedFile(t *testing.T) {
	_, r := newTestHandle(t, fakeCapability{out: okJSON})
	do(t, r, "POST", "/v1/sessions", nil, "")
	body, ctype := multipartFile(t, "notes.txt", "text/plain", []byte("hello"))
	rec := do(t, r, "POST", "/v1/sessions/s1/upload?wait=1", body, ctype)
	got := decode[sessionView](t, rec)
	if got.State.Phase != upload.Failed || got.State.Failure.Kind != analysis.KindInvalidInput {
		t.Fatalf("state = %+v", got.State)
	}
}

func TestSessionErrors(t *testing.T) {
	_, r := newTestHandle(t, fakeCapability{out: okJSON})
	if rec := do(t, r, "POST", "/v1/sessions", []byte(`{"llm_name":"gpt"}`), "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unconfigured engine = %d", rec.Code)
	}
	if rec := do(t, r, "POST", "/v1/sessions/nope/upload", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session upload = %d", rec.Code)
	}
	if rec := do(t, r, "DELETE", "/v1/sessions/nope", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session delete = %d", rec.Code)
	}
	do(t, r, "POST", "/v1/sessions", nil, "")
	if rec := do(t, r, "POST", "/v1/sessions/s1/upload", []byte("plain"), "text/plain"); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-multipart upload = %d", rec.Code)
	}
}

func TestSessionLimit(t *testing.T) {
	h, r := newTestHandle(t, fakeCapability{out: okJSON})
	h.sessions.SetMax(3)
	for i := 0; i < 3; i++ {
		if rec := do(t, r, "POST", "/v1/sessions", nil, ""); rec.Code != http.StatusCreated {
			t.Fatalf("create %d = %d", i, rec.Code)
		}
	}
	rec := do(t, r, "POST", "/v1/sessions", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("create over cap = %d", rec.Code)
	}
	if e := decode[errorBody](t, rec); e.Error.Kind != "too_many_sessions" {
		t.Fatalf("error = %+v", e)
	}
	if h.sessions.Len() != 3 {
		t.Fatalf("sessions = %d", h.sessions.Len())
	}

	do(t, r, "DELETE", "/v1/sessions/s1", nil, "")
	if rec := do(t, r, "POST", "/v1/sessions", nil, ""); rec.Code != http.StatusCreated {
		t.Fatalf("create after delete = %d", rec.Code)
	}
}

func TestPatientData(t *testing.T) {
	_, r := newTestHandle(t, fakeCapability{})
	rec := do(t, r, "GET", "/v1/patient", nil, "")
	p := decode[patientView](t, rec)
	if p.ID != "MS-8293-XP" || p.FullName != "Alex Johnson" || p.Initials != "AJ" {
		t.Fatalf("patient = %+v", p)
	}
	raw := do(t, r, "GET", "/v1/records", nil, "")
	if !bytes.Contains(raw.Body.Bytes(), []byte(`"provider":"General Hospital, NYC"`)) || !bytes.Contains(raw.Body.Bytes(), []byte(`"severity":"Normal"`)) {
		t.Fatalf("records body = %s", raw.Body)
	}
	recs := decode[[]store.MedicalRecord](t, raw)
	if len(recs) != 3 {
		t.Fatalf("records = %d", len(recs))
	}
	raw = do(t, r, "GET", "/v1/vitals", nil, "")
	if !bytes.Contains(raw.Body.Bytes(), []byte(`"timestamp":"08:00"`)) || !bytes.Contains(raw.Body.Bytes(), []byte(`"spo2":98`)) {
		t.Fatalf("vitals body = %s", raw.Body)
	}
	vit := decode[[]store.VitalSign](t, raw)
	if len(vit) != 5 {
		t.Fatalf("vitals = %d", len(vit))
	}
}

type failingSource struct{ *store.Static }

func (failingSource) Patient(context.Context) (store.PatientInfo, error) {
	return store.PatientInfo{}, store.ErrNotFound
}

func (failingSource) Records(context.Context) ([]store.MedicalRecord, error) {
	return nil, errors.New("db down")
}

func TestPatientSourceErrors(t *testing.T) {
	h, r := newTestHandle(t, fakeCapability{})
	h.src = failingSource{store.NewStatic()}
	if rec := do(t, r, "GET", "/v1/patient", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("patient = %d", rec.Code)
	}
	if rec := do(t, r, "GET", "/v1/records", nil, ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("records = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	for k, want := range map[analysis.Kind]int{
		analysis.KindInvalidInput:       400,
		analysis.KindMalformedResponse:  502,
		analysis.KindCapabilityRejected: 424,
		analysis.KindTransportFailure:   504,
		"":                              500,
	} {
		if got := StatusFor(k); got != want {
			t.Errorf("StatusFor(%q) = %d, want %d", k, got, want)
		}
	}
}
