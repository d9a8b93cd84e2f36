package core

import (
	"context"

	"kardex_assistant/pkg"
)

// IntentResolver classifies inbound text
type IntentResolver interface {
	Resolve(ctx context.Context, text string, session pkg.SessionState, history []pkg.ConversationMessage) pkg.Intent
}

// QueryExecutor runs the lookup an intent declares
type QueryExecutor interface {
	Execute(ctx context.Context, intent pkg.Intent, session pkg.SessionState) pkg.QueryResult
}

// ResponseGenerator composes the customer-facing reply
type ResponseGenerator interface {
	Generate(ctx context.Context, intent pkg.Intent, data any, rc pkg.RequestContext) pkg.ResponsePayload
}

// HealthProbe reports whether the completion backend is reachable
type HealthProbe interface {
	IsAvailable(ctx context.Context) bool
}

// Stage names one step of a pipeline run
type Stage string

const (
	StageIntent   Stage = "intent"
	StageOrder    Stage = "order"
	StageQuery    Stage = "query"
	StageResponse Stage = "response"
)

// Result labels that are not intent categories
const (
	LabelOrder = "order"
	LabelError = "error"
)

const (
	blankInputConfidence = 0.1
	orderSuccessConf     = 0.9
	orderFailureConf     = 0.5
	actionOnlyConf       = 0.8
	defaultResultConf    = 0.7
	errorConfidence      = 0.1
)

const (
	msgBlankInput   = "No pude entender tu mensaje. Por favor, intenta de nuevo."
	msgOrderFailed  = "No pude procesar tu pedido. Por favor, intenta de nuevo."
	msgProcessError = "😅 Lo siento, hubo un error al procesar tu mensaje.\n\n💡 Por favor intenta:\n• Reformular tu mensaje\n• Escribir *AYUDA* para ver opciones\n• Intentar de nuevo en unos momentos"
)
