// Package llm reaches language models through one Generator interface.
package llm

import (
	"context"
	"errors"
)

// Model tiers. Providers map a tier to a concrete model name; any other
// value of Request.Model is passed through as a model name.
const (
	ModelFlash = "flash"
	ModelPro   = "pro"
)

// ErrDisabled is returned by a Generator running in mock mode.
var ErrDisabled = errors.New("language model is disabled")

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("language model returned no text")

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	// Enabled is false in mock mode. Callers then use their deterministic default.
	Enabled() bool
}

// Request is one generation call.
type Request struct {
	System string
	Prompt string
	// Model is a tier (ModelFlash, ModelPro) or a concrete model name.
	Model string
	// JSON asks the provider for a JSON object response.
	JSON bool
	// Temperature is optional; nil leaves the provider default.
	Temperature *float32
	// Caller labels metrics and logs (analyzer, planner, ...).
	Caller string
}

// Response is the generated text.
type Response struct {
	Text       string
	Model      string
	TokenUsage int
}

// Temperature returns a pointer to t for Request.Temperature.
func Temperature(t float32) *float32 { return &t }
