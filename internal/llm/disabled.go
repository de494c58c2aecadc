package llm

import "context"

// Disabled is the mock-mode Generator.
type Disabled struct{}

func (Disabled) Generate(context.Context, Request) (*Response, error) {
	return nil, ErrDisabled
}

func (Disabled) Enabled() bool { return false }
