package core

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kardex_assistant/internal/logger"
	"kardex_assistant/internal/metrics"
	"kardex_assistant/internal/nodes"
	"kardex_assistant/pkg"
)

// Processor runs one inbound message through intent resolution, order delegation,
// query execution and response generation, strictly in that order
type Processor struct {
	resolver  IntentResolver
	executor  QueryExecutor
	generator ResponseGenerator
	orders    nodes.OrderProcessor
	health    HealthProbe
	metrics   *metrics.Metrics
}

// Option configures a Processor
type Option func(*Processor)

// WithHealthProbe lets IsAvailable report on the completion backend
func WithHealthProbe(h HealthProbe) Option {
	return func(p *Processor) { p.health = h }
}

// NewProcessor wires the pipeline stages. orders may be nil, in which case
// place-order messages go through the generic flow.
func NewProcessor(resolver IntentResolver, executor QueryExecutor, generator ResponseGenerator, orders nodes.OrderProcessor, m *metrics.Metrics, opts ...Option) *Processor {
	p := &Processor{
		resolver:  resolver,
		executor:  executor,
		generator: generator,
		orders:    orders,
		metrics:   m,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsAvailable reports whether the completion backend answers
func (p *Processor) IsAvailable(ctx context.Context) bool {
	if p.health == nil {
		return false
	}
	return p.health.IsAvailable(ctx)
}

// Process never returns an error; every failure degrades to a structured result
func (p *Processor) Process(ctx context.Context, text string, rc pkg.RequestContext) (result pkg.ProcessResult) {
	start := time.Now()
	requestID := uuid.NewString()
	log := logger.GetLogger().With().Str("request_id", requestID).Logger()
	var path []Stage

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Strs("path", stageNames(path)).Msg("Pipeline panicked")
			result = errorResult()
		}
		result.RequestID = requestID
		result.Duration = time.Since(start)
		p.metrics.RecordRequest(result.Intent)
		log.Info().
			Str("intent", result.Intent).
			Float64("confidence", result.Confidence).
			Str("action", string(result.Action)).
			Bool("has_message", result.Message != nil).
			Strs("path", stageNames(path)).
			Dur("duration", result.Duration).
			Msg("Message processed")
	}()

	if strings.TrimSpace(text) == "" {
		return pkg.ProcessResult{
			Intent:     string(pkg.IntentOther),
			Confidence: blankInputConfidence,
			Message:    pkg.StringPtr(msgBlankInput),
		}
	}

	log.Info().
		Int("text_length", len(text)).
		Bool("voice", rc.IsFromVoice).
		Bool("has_history", len(rc.History) > 0).
		Str("state", rc.SessionState.State).
		Msg("Processing message")

	path = append(path, StageIntent)
	intent := p.resolver.Resolve(ctx, text, rc.SessionState, rc.History)

	if intent.Category == pkg.IntentPlaceOrder && p.orders != nil {
		path = append(path, StageOrder)
		if done, res := p.delegateOrder(ctx, log, text, rc, &intent); done {
			return res
		}
	}

	if intent.Category.IsActionOnly() && intent.Action != pkg.ActionNone {
		log.Debug().Str("action", string(intent.Action)).Msg("Action-only intent, skipping query and response")
		return pkg.ProcessResult{
			Intent:     string(intent.Category),
			Confidence: confidenceOr(intent.Confidence, actionOnlyConf),
			Action:     intent.Action,
		}
	}

	var data any
	if intent.RequiredQuery != pkg.QueryNone {
		path = append(path, StageQuery)
		qr := p.executor.Execute(ctx, intent, rc.SessionState)
		if qr.Error != "" {
			log.Warn().Str("query", string(intent.RequiredQuery)).Str("error", qr.Error).Msg("Query failed, continuing without data")
		} else {
			data = qr.Data
		}
	}

	path = append(path, StageResponse)
	response := p.generator.Generate(ctx, intent, data, rc)

	if intent.Action != pkg.ActionNone && hasData(data) && response.Text == nil {
		return pkg.ProcessResult{
			Intent:     string(intent.Category),
			Confidence: confidenceOr(intent.Confidence, actionOnlyConf),
			Action:     intent.Action,
			Data:       data,
		}
	}

	out := pkg.ProcessResult{
		Intent:     string(intent.Category),
		Confidence: confidenceOr(intent.Confidence, defaultResultConf),
		Action:     intent.Action,
		Message:    response.Text,
		Data:       response.Data,
		Buttons:    response.Buttons,
	}
	if out.Data == nil {
		out.Data = data
	}
	return out
}

// delegateOrder hands place-order text to the order processor. done is false when the
// pipeline should continue, possibly with intent re-categorized.
func (p *Processor) delegateOrder(ctx context.Context, log zerolog.Logger, text string, rc pkg.RequestContext, intent *pkg.Intent) (bool, pkg.ProcessResult) {
	outcome, err := p.orders.ProcessOrder(ctx, text, rc.History)
	if err != nil {
		log.Error().Err(err).Msg("Order processing failed, continuing with generic flow")
		return false, pkg.ProcessResult{}
	}

	switch {
	case outcome.Success:
		action := outcome.Action
		if action == pkg.ActionNone {
			action = pkg.ActionAddProductsToOrder
		}
		return true, pkg.ProcessResult{
			Intent:     LabelOrder,
			Confidence: orderSuccessConf,
			Action:     action,
			Data:       outcome,
		}
	case outcome.Intent != "":
		log.Info().Str("intent", string(outcome.Intent)).Msg("Order processor detected another intent")
		intent.Category = outcome.Intent
		return false, pkg.ProcessResult{}
	default:
		msg := outcome.Message
		if msg == "" {
			msg = msgOrderFailed
		}
		return true, pkg.ProcessResult{
			Intent:     LabelOrder,
			Confidence: orderFailureConf,
			Message:    pkg.StringPtr(msg),
		}
	}
}

func errorResult() pkg.ProcessResult {
	return pkg.ProcessResult{
		Intent:     LabelError,
		Confidence: errorConfidence,
		Message:    pkg.StringPtr(msgProcessError),
	}
}

func confidenceOr(c, def float64) float64 {
	if c == 0 {
		return def
	}
	return c
}

// hasData is false for nil, nil pointers and empty slices or maps
func hasData(data any) bool {
	if data == nil {
		return false
	}
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return !v.IsNil()
	case reflect.Slice, reflect.Map:
		return v.Len() > 0
	default:
		return true
	}
}

func stageNames(path []Stage) []string {
	names := make([]string, len(path))
	for i, s := range path {
		names[i] = string(s)
	}
	return names
}

// Summary renders a one-line view of a result for terminal output
func Summary(r pkg.ProcessResult) string {
	msg := ""
	if r.Message != nil {
		msg = *r.Message
	}
	return fmt.Sprintf("[%s %.2f %s] %s", r.Intent, r.Confidence, r.Action, msg)
}
