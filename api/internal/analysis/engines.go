package analysis

import (
	"errors"
	"strings"
)

// Engines holds one Client per configured capability.
type Engines struct {
	Gemini  *Client
	OpenAI  *Client
	Default string
}

var ErrUnknownEngine = errors.New("unknown llm_name; use 'gemini' or 'gpt'")

// GetEngine resolves an llm_name as sent by clients; empty means Default.
func (e *Engines) GetEngine(llmName string) (*Client, error) {
	name := strings.ToLower(strings.TrimSpace(llmName))
	if name == "" {
		name = e.Default
	}
	var c *Client
	switch name {
	case "gemini", "":
		c = e.Gemini
	case "gpt", "openai":
		c = e.OpenAI
	default:
		return nil, ErrUnknownEngine
	}
	if c == nil {
		return nil, errors.New("llm engine " + name + " is not configured")
	}
	return c, nil
}

// Names lists configured engines, default first.
func (e *Engines) Names() []string {
	var out []string
	if e.Gemini != nil {
		out = append(out, "gemini")
	}
	if e.OpenAI != nil {
		out = append(out, "gpt")
	}
	if d, err := e.GetEngine(""); err == nil && len(out) > 1 && d == e.OpenAI {
		out[0], out[1] = out[1], out[0]
	}
	return out
}
