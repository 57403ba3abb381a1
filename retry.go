package embedcache

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blueberrycongee/embedcache/pkg/errors"
	"github.com/blueberrycongee/embedcache/pkg/provider"
)

// linearBackOff waits base*i before retry i.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// embedWithRetry calls the provider up to MaxAttempts times. Only a done
// context ends the loop early, unless FailFast also stops it on credential and
// request-shape failures. The final error is an *errors.EmbeddingError.
func (c *Client) embedWithRetry(ctx context.Context, texts []string, req provider.EmbedRequest) (*provider.EmbedResponse, error) {
	name := c.embedder.Name()

	var (
		resp    *provider.EmbedResponse
		attempt int
	)
	op := func() error {
		attempt++
		start := time.Now()
		r, err := c.embedder.Embed(ctx, texts, req)
		if err == nil {
			err = validateResponse(r, len(texts), req, name)
		}
		c.config.Observer.ProviderCall(name, len(texts), time.Since(start), err)

		if err != nil {
			if ctx.Err() != nil || (c.config.FailFast && !errors.IsRetryable(err)) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.config.Observer.Retry(name)
		c.logger.Warn("embedding provider call failed, retrying",
			"provider", name,
			"model", req.Model,
			"attempt", attempt,
			"max_attempts", c.config.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	maxRetries := c.config.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: c.config.RetryDelay}, uint64(maxRetries)),
		ctx,
	)

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		embErr := errors.Classify(err, name, req.Model)
		c.logger.Error("embedding generation failed",
			"provider", name,
			"model", req.Model,
			"attempts", attempt,
			"code", embErr.Code,
			"error", err,
		)
		return nil, embErr
	}
	return resp, nil
}

// validateResponse checks that the provider returned one vector of the
// requested size per input.
func validateResponse(resp *provider.EmbedResponse, inputs int, req provider.EmbedRequest, name string) error {
	if resp == nil {
		return errors.NewGenericError(name, req.Model, "provider returned no response", 0)
	}
	if len(resp.Vectors) != inputs {
		return errors.NewGenericError(name, req.Model,
			fmt.Sprintf("provider returned %d embeddings for %d inputs", len(resp.Vectors), inputs), 0)
	}
	for i, v := range resp.Vectors {
		if len(v) != req.Dimensions {
			return errors.NewGenericError(name, req.Model,
				fmt.Sprintf("embedding %d has %d dimensions, expected %d", i, len(v), req.Dimensions), 0)
		}
	}
	return nil
}
