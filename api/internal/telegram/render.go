package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"medist/api/internal/analysis"
	"medist/api/internal/store"
	"medist/api/internal/upload"
	"medist/api/internal/util"
)

// Telegram rejects messages over 4096 characters.
const maxMessageRunes = 3900

func bandLabel(b analysis.Band) string {
	switch b {
	case analysis.BandHigh:
		return "🔴 high"
	case analysis.BandElevated:
		return "🟠 elevated"
	default:
		return "🟢 low"
	}
}

func bullets(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n" + title + ":\n")
	for _, it := range items {
		b.WriteString("• " + strings.TrimSpace(it) + "\n")
	}
}

func RenderResult(res analysis.Result) string {
	var b strings.Builder
	b.WriteString("📋 Report analysis\n\n")
	b.WriteString(res.Summary + "\n")
	bullets(&b, "Key findings", res.KeyFindings)
	if len(res.AbnormalValues) > 0 {
		bullets(&b, "Abnormal values", res.AbnormalValues)
	} else {
		b.WriteString("\nNo abnormal values detected.\n")
	}
	fmt.Fprintf(&b, "\nRisk score: %s/10 (%s)\n", strconv.FormatFloat(res.RiskScore, 'f', -1, 64), bandLabel(res.Band()))
	bullets(&b, "Recommendations", res.Recommendations)

	// the disclaimer must survive truncation
	tail := "\n⚠️ " + analysis.Disclaimer
	return util.Truncate(b.String(), maxMessageRunes-len([]rune(tail))) + tail
}

func RenderFailure(f *upload.Failure) string {
	if f == nil {
		return "❌ Analysis failed."
	}
	hint := ""
	switch f.Kind {
	case analysis.KindInvalidInput:
		hint = "\nSend a photo (JPEG, PNG, WEBP, HEIC) or a PDF."
	case analysis.KindTransportFailure, analysis.KindMalformedResponse:
		hint = "\nSend the document again to retry."
	case analysis.KindCapabilityRejected:
		hint = "\nTry another engine with /engine or try again later."
	}
	return "❌ " + f.Message + hint
}

// RenderSnapshot describes any controller state, for /status.
func RenderSnapshot(s upload.Snapshot) string {
	switch s.Phase {
	case upload.Analyzing:
		name := "your document"
		if s.Document != nil && s.Document.Name != "" {
			name = s.Document.Name
		}
		return "⏳ Analyzing " + name + "…"
	case upload.Succeeded:
		if s.Result != nil {
			return RenderResult(*s.Result)
		}
	case upload.Failed:
		return RenderFailure(s.Failure)
	}
	return "No document yet. Send a photo or PDF of a medical report."
}

func RenderPatient(p store.PatientInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s (%s)\n", p.FullName(), p.Initials())
	fmt.Fprintf(&b, "Medist ID: %s\n", p.ID)
	fmt.Fprintf(&b, "Date of birth: %s\n", p.DateOfBirth)
	fmt.Fprintf(&b, "Blood type: %s\n", p.BloodType)
	fmt.Fprintf(&b, "Gender: %s\n", p.Gender)
	fmt.Fprintf(&b, "Nationality: %s", p.Nationality)
	return b.String()
}

func RenderRecords(recs []store.MedicalRecord) string {
	if len(recs) == 0 {
		return "No medical records."
	}
	var b strings.Builder
	b.WriteString("🗂 Medical history\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "\n%s · %s · %s\n%s, %s\n", r.Date, r.Type, r.Severity, r.Title, r.Provider)
		if r.Summary != "" {
			b.WriteString(r.Summary + "\n")
		}
	}
	return util.Truncate(b.String(), maxMessageRunes)
}
