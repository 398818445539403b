// Package review generates call reviews through a language model, scores
// them deterministically and merges amendments into them.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/llm"
	"github.com/joescharf/callsage/internal/logger"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/request"
)

// Config holds generation settings.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxElapsed      time.Duration
	Temperature     float64
}

// DefaultConfig returns the default generation config, reading from viper when available.
func DefaultConfig() Config {
	maxAttempts := viper.GetInt("retry.max_attempts")
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	maxElapsed := viper.GetDuration("retry.max_elapsed")
	if maxElapsed <= 0 {
		maxElapsed = 90 * time.Second
	}
	temperature := 0.2
	if viper.IsSet("llm.temperature") {
		temperature = viper.GetFloat64("llm.temperature")
	}
	return Config{
		MaxAttempts:     maxAttempts,
		InitialInterval: 2 * time.Second,
		MaxElapsed:      maxElapsed,
		Temperature:     temperature,
	}
}

// Generator turns review requests into finished reviews.
type Generator struct {
	model llm.Model
	cfg   Config
	log   *logger.Logger
}

// NewGenerator creates a generator around a shared model handle.
func NewGenerator(model llm.Model, cfg Config, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Generator{model: model, cfg: cfg, log: log.Component("review")}
}

// Generate produces a review for req. Validation failures return an
// *apperr.ValidationError without contacting the model; model failures
// return an *apperr.GenerationError after bounded retries of transient and
// empty or invalid responses.
func (g *Generator) Generate(ctx context.Context, req *models.ReviewRequest) (*models.Review, error) {
	if req != nil && len(req.ScoringMatrix) == 0 {
		return nil, apperr.EmptyMatrix()
	}
	if err := request.Validate(req); err != nil {
		return nil, err
	}

	inv := g.invocation(req)
	log := g.log.WithField("agent", req.AgentName)

	var result *models.Review
	attempt := 0
	op := func() error {
		attempt++
		res, err := g.model.Invoke(ctx, inv)
		if err != nil {
			if apperr.IsValidation(err) {
				return backoff.Permanent(err)
			}
			ge := &apperr.GenerationError{Kind: apperr.Classify(err), Err: err}
			if !ge.Retryable() {
				return backoff.Permanent(ge)
			}
			return ge
		}
		reply, err := decodeReply(res)
		if err != nil {
			return &apperr.GenerationError{Kind: apperr.KindEmptyOrInvalidResponse, Err: err}
		}
		result = g.finalize(reply, req)
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("review generation failed, retrying")
	}

	if err := backoff.RetryNotify(op, g.policy(ctx), notify); err != nil {
		var ge *apperr.GenerationError
		if !errors.As(err, &ge) && !apperr.IsValidation(err) {
			err = &apperr.GenerationError{Kind: apperr.Classify(err), Err: err}
		}
		log.WithError(err).WithField("attempts", attempt).Error("review generation failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"overall_score": result.OverallScore,
		"attempts":      attempt,
	}).Info("review generated")
	return result, nil
}

func (g *Generator) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if g.cfg.InitialInterval > 0 {
		b.InitialInterval = g.cfg.InitialInterval
	}
	b.MaxElapsedTime = g.cfg.MaxElapsed
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.cfg.MaxAttempts-1)), ctx)
}

func (g *Generator) invocation(req *models.ReviewRequest) *llm.Invocation {
	system, user := buildPrompt(req)
	return &llm.Invocation{
		System:      system,
		Messages:    []llm.Message{{Role: models.ChatRoleUser, Content: user}},
		Audio:       req.Audio,
		Output:      outputTool(),
		Temperature: &g.cfg.Temperature,
	}
}

// decodeReply prefers the structured tool output and falls back to JSON
// recovered from the text reply.
func decodeReply(res *llm.Result) (*reviewReply, error) {
	if res == nil {
		return nil, fmt.Errorf("model returned no result")
	}
	raw := res.Structured
	if len(raw) == 0 {
		if res.Text == "" {
			return nil, fmt.Errorf("model returned no content")
		}
		extracted, err := llm.ExtractJSON(res.Text)
		if err != nil {
			return nil, err
		}
		raw = extracted
	}
	return validateReply(raw)
}
