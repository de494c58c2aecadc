package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// StripFences removes a surrounding markdown code fence and anything outside
// the outermost JSON object or array.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// DecodeJSON unmarshals model output into v after stripping fences.
func DecodeJSON(text string, v interface{}) error {
	cleaned := StripFences(text)
	if cleaned == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

// GenerateJSON runs a JSON request and decodes the answer into v.
func GenerateJSON(ctx context.Context, g Generator, req Request, v interface{}) (*Response, error) {
	req.JSON = true
	resp, err := g.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := DecodeJSON(resp.Text, v); err != nil {
		return resp, err
	}
	return resp, nil
}
