package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"kardex_assistant/internal/logger"
	"kardex_assistant/internal/metrics"
)

var (
	// ErrInvalidModelResponse means the model answered but no JSON object could be read from it
	ErrInvalidModelResponse = errors.New("invalid model response")
	// ErrNoCompletion means the model returned an empty completion
	ErrNoCompletion = errors.New("empty completion")
)

const jsonOnlyInstruction = "\n\nResponde SOLO con un JSON válido, sin texto adicional."

// Request is one completion call as seen by a Completer
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	TopP        float32
	TopK        int
}

// Completer performs a single completion. Implementations must honor ctx cancellation.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// HealthChecker answers availability probes for the completion backend
type HealthChecker interface {
	IsAvailable(ctx context.Context) bool
	HasModel(ctx context.Context, model string) bool
}

// Dispatcher maps tasks to profiles and runs completions with a one-step fallback to the queries profile
type Dispatcher struct {
	completer Completer
	health    HealthChecker
	profiles  Profiles
	metrics   *metrics.Metrics
}

// NewDispatcher creates a dispatcher. A nil health checker reports the backend as available.
func NewDispatcher(completer Completer, profiles Profiles, health HealthChecker, m *metrics.Metrics) *Dispatcher {
	table := make(Profiles, len(profiles)+1)
	for task, p := range profiles {
		table[task] = p
	}
	if len(table) == 0 {
		table = DefaultProfiles("")
	}
	if _, ok := table[TaskQueries]; !ok {
		table[TaskQueries] = DefaultProfiles("")[TaskQueries]
	}
	return &Dispatcher{
		completer: completer,
		health:    health,
		profiles:  table,
		metrics:   m,
	}
}

// Complete resolves the profile for task, applies overrides and runs the completion.
// A failed non-queries call is retried once with the queries profile; if that fails too the first error is returned.
func (d *Dispatcher) Complete(ctx context.Context, prompt, system string, task Task, ov Overrides) (string, error) {
	resolved, profile := d.profiles.Resolve(task)
	profile = ov.Apply(profile)

	logger.Debug().
		Str("task", string(resolved)).
		Str("model", profile.Model).
		Float32("temperature", profile.Temperature).
		Int("prompt_length", len(prompt)).
		Msg("Generating completion")

	text, err := d.call(ctx, prompt, system, profile)
	if err == nil {
		d.metrics.RecordModelCall(string(resolved), "ok")
		return text, nil
	}
	d.metrics.RecordModelCall(string(resolved), "error")
	logger.Warn().Err(err).Str("task", string(resolved)).Msg("Completion failed")

	if resolved == TaskQueries || ctx.Err() != nil {
		return "", err
	}

	logger.Warn().Str("task", string(resolved)).Msg("Retrying with queries profile")
	text, fallbackErr := d.call(ctx, prompt, system, d.profiles[TaskQueries])
	if fallbackErr != nil {
		d.metrics.RecordModelCall(string(resolved), "fallback_error")
		logger.Error().Err(fallbackErr).Msg("Fallback completion failed")
		return "", err
	}
	d.metrics.RecordModelCall(string(resolved), "fallback_ok")
	return text, nil
}

// call runs one completion under the profile timeout. The derived context is cancelled on
// return, so a completion arriving after the deadline is dropped.
func (d *Dispatcher) call(ctx context.Context, prompt, system string, p Profile) (string, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := d.completer.Complete(ctx, Request{
		Model:       p.Model,
		System:      system,
		Prompt:      prompt,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return "", fmt.Errorf("completion with %s failed after %s: %w", p.Model, time.Since(start).Round(time.Millisecond), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoCompletion
	}
	return text, nil
}

// CompleteJSON asks for a JSON-only answer and parses the first balanced object in it
func (d *Dispatcher) CompleteJSON(ctx context.Context, prompt, system string, task Task, ov Overrides) (map[string]any, error) {
	text, err := d.Complete(ctx, prompt+jsonOnlyInstruction, system, task, ov)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModelResponse, err)
	}

	span, ok := ExtractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in %d-byte completion", ErrInvalidModelResponse, len(text))
	}

	var out map[string]any
	if err := sonic.UnmarshalString(span, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelResponse, err)
	}
	return out, nil
}

// IsAvailable reports whether the completion backend answers
func (d *Dispatcher) IsAvailable(ctx context.Context) bool {
	if d.health == nil {
		return true
	}
	return d.health.IsAvailable(ctx)
}

// HasModel reports whether the queries model is installed on the backend
func (d *Dispatcher) HasModel(ctx context.Context) bool {
	if d.health == nil {
		return true
	}
	return d.health.HasModel(ctx, d.profiles[TaskQueries].Model)
}

// ExtractJSONObject returns the first balanced {...} span in s, skipping braces inside string literals
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
