package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a reply holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in model reply")

// ExtractJSON decodes the first JSON object found in reply into v. Models
// wrap JSON in markdown fences or prose often enough that the reply is
// scanned rather than decoded as-is.
func ExtractJSON(reply string, v any) error {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = rest[:j]
		}
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ErrNoJSON
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return nil
}

// CompleteJSON runs req in JSON mode and decodes the reply into v.
func CompleteJSON(ctx context.Context, c Client, req Request, v any) error {
	req.JSON = true
	reply, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	return ExtractJSON(reply, v)
}
