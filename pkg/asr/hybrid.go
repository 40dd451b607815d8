package asr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
)

// HybridProvider runs several providers on the same segment and keeps the
// first non-empty transcript in priority order.
type HybridProvider struct {
	providers []Provider
}

// NewHybridProvider combines providers, highest priority first.
func NewHybridProvider(providers ...Provider) (*HybridProvider, error) {
	if len(providers) == 0 {
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "hybrid provider needs at least one provider"}
	}
	return &HybridProvider{providers: providers}, nil
}

// Name returns the provider name.
func (h *HybridProvider) Name() string {
	names := make([]string, len(h.providers))
	for i, p := range h.providers {
		names[i] = p.Name()
	}
	return "hybrid(" + strings.Join(names, ",") + ")"
}

// Recognize fans the segment out to every provider. Provider failures are
// tolerated as long as one of them returns text.
func (h *HybridProvider) Recognize(ctx context.Context, audio io.Reader, audioConfig AudioConfig, config RecognitionConfig) (*RecognitionResult, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, &Error{Code: ErrCodeInvalidAudio, Message: "failed to read audio data", Err: err}
	}

	results := make([]*RecognitionResult, len(h.providers))
	errs := make([]error, len(h.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range h.providers {
		g.Go(func() error {
			results[i], errs[i] = p.Recognize(gctx, bytes.NewReader(data), audioConfig, config)
			return nil
		})
	}
	_ = g.Wait()

	var empty *RecognitionResult
	for i, res := range results {
		if errs[i] != nil || res == nil {
			continue
		}
		if strings.TrimSpace(res.Text) != "" {
			return res, nil
		}
		if empty == nil {
			empty = res
		}
	}
	if empty != nil {
		return empty, nil
	}
	return nil, &Error{Code: ErrCodeProviderError, Message: "all providers failed", Err: errors.Join(errs...)}
}

// Close closes every provider.
func (h *HybridProvider) Close() error {
	var errs []error
	for _, p := range h.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
