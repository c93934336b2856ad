package analysis

import (
	"encoding/json"
	"fmt"
)

const Prompt = "Analyze this medical report. Extract key findings, identify any abnormal values, " +
	"and provide a summary in professional but accessible language. " +
	"Also, provide a health risk assessment score from 1-10 (1 being healthy)."

// ResponseSchema declares the JSON shape the capability must answer with.
const ResponseSchema = `{
  "type": "object",
  "properties": {
    "summary":         { "type": "string" },
    "keyFindings":     { "type": "array", "items": { "type": "string" } },
    "abnormalValues":  { "type": "array", "items": { "type": "string" } },
    "riskScore":       { "type": "number" },
    "recommendations": { "type": "array", "items": { "type": "string" } }
  },
  "required": ["summary", "keyFindings", "riskScore"]
}`

// Schema returns a fresh decoded copy of ResponseSchema.
func Schema() map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(ResponseSchema), &m); err != nil {
		panic(fmt.Sprintf("analysis: bad embedded schema: %v", err))
	}
	return m
}
