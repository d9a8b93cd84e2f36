package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"kardex_assistant/internal/cache"
	"kardex_assistant/internal/llm"
	"kardex_assistant/internal/logger"
	"kardex_assistant/internal/metrics"
	"kardex_assistant/pkg"
)

const (
	intentCacheKeyPrefix = "intent_"
	intentCacheKeyLen    = 50
	intentHistoryTurns   = 3
	intentHistoryChars   = 100
	intentTemperature    = 0.2
)

// ErrMissingCategory is returned when the model answer has no recognizable intent label
var ErrMissingCategory = errors.New("model response has no valid intent category")

// Completion is the subset of the dispatcher the pipeline stages depend on
type Completion interface {
	Complete(ctx context.Context, prompt, system string, task llm.Task, ov llm.Overrides) (string, error)
	CompleteJSON(ctx context.Context, prompt, system string, task llm.Task, ov llm.Overrides) (map[string]any, error)
}

// IntentResolver classifies raw customer text into a structured intent
type IntentResolver struct {
	completion Completion
	cache      *cache.Service
	fallback   *FallbackClassifier
	template   prompt.ChatTemplate
	metrics    *metrics.Metrics
}

// NewIntentResolver creates a resolver. completion may be nil, in which case every
// message goes through the rule-based classifier.
func NewIntentResolver(completion Completion, c *cache.Service, m *metrics.Metrics) *IntentResolver {
	if c == nil {
		c = cache.New(cache.DefaultConfig())
	}
	return &IntentResolver{
		completion: completion,
		cache:      c,
		fallback:   NewFallbackClassifier(),
		template:   createIntentTemplate(),
		metrics:    m,
	}
}

// Resolve never fails: model problems degrade to the rule-based classifier
func (r *IntentResolver) Resolve(ctx context.Context, text string, session pkg.SessionState, history []pkg.ConversationMessage) pkg.Intent {
	if strings.TrimSpace(text) == "" {
		return blankIntent()
	}

	key := intentCacheKey(text)
	normalized := normalizeIntentText(text)
	if cached, ok := r.cache.GetResponse(key); ok {
		if entry, ok := cached.(cachedIntent); ok && entry.Text == normalized {
			logger.Debug().Str("key", key).Msg("Intent cache hit")
			return entry.Intent
		}
	}

	start := time.Now()
	cacheable := true
	intent, err := r.classify(ctx, text, session, history)
	if err != nil {
		logger.Warn().Err(err).Msg("Intent model failed, using fallback classifier")
		r.metrics.RecordClassifierFallback()
		var usedSession bool
		intent, usedSession = r.fallback.classify(text, session)
		cacheable = !usedSession
	}
	r.metrics.ObserveStage("intent", time.Since(start))

	logger.Info().
		Str("category", string(intent.Category)).
		Float64("confidence", intent.Confidence).
		Str("query", string(intent.RequiredQuery)).
		Str("action", string(intent.Action)).
		Bool("fallback", err != nil).
		Msg("Intent resolved")

	if cacheable {
		r.cache.SetResponse(key, cachedIntent{Text: normalized, Intent: intent})
	}
	return intent
}

func (r *IntentResolver) classify(ctx context.Context, text string, session pkg.SessionState, history []pkg.ConversationMessage) (pkg.Intent, error) {
	if r.completion == nil {
		return pkg.Intent{}, errors.New("no completion backend configured")
	}

	userPrompt, err := r.buildPrompt(ctx, text, session, history)
	if err != nil {
		return pkg.Intent{}, err
	}

	raw, err := r.completion.CompleteJSON(ctx, userPrompt, intentSystemPrompt, llm.TaskQueries, llm.WithTemperature(intentTemperature))
	if err != nil {
		return pkg.Intent{}, err
	}
	return parseIntent(raw)
}

func (r *IntentResolver) buildPrompt(ctx context.Context, text string, session pkg.SessionState, history []pkg.ConversationMessage) (string, error) {
	msgs, err := r.template.Format(ctx, map[string]any{
		"text":    text,
		"history": formatIntentHistory(history),
		"session": formatIntentSession(session),
	})
	if err != nil {
		return "", fmt.Errorf("format intent prompt: %w", err)
	}
	if len(msgs) == 0 {
		return "", errors.New("intent prompt rendered no messages")
	}
	return msgs[len(msgs)-1].Content, nil
}

// cachedIntent keeps the full normalized text next to the intent. Keys are capped prefixes,
// so a lookup only hits when the stored text matches.
type cachedIntent struct {
	Text   string
	Intent pkg.Intent
}

func normalizeIntentText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// intentCacheKey is the capped prefix of the normalized text. Texts sharing that prefix share a key.
func intentCacheKey(text string) string {
	norm := normalizeIntentText(text)
	if r := []rune(norm); len(r) > intentCacheKeyLen {
		norm = string(r[:intentCacheKeyLen])
	}
	return intentCacheKeyPrefix + norm
}

func formatIntentHistory(history []pkg.ConversationMessage) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > intentHistoryTurns {
		history = history[len(history)-intentHistoryTurns:]
	}

	var b strings.Builder
	b.WriteString("Contexto de conversación anterior:\n")
	for i, msg := range history {
		speaker := "Usuario"
		if msg.Role == "assistant" || msg.Role == "bot" {
			speaker = "Bot"
		}
		content := msg.Content
		if r := []rune(content); len(r) > intentHistoryChars {
			content = string(r[:intentHistoryChars])
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, speaker, content)
	}
	b.WriteString("\n")
	return b.String()
}

func formatIntentSession(session pkg.SessionState) string {
	if session.IsEmpty() {
		return ""
	}
	state := session.State
	if state == "" {
		state = pkg.StateIdle
	}

	var b strings.Builder
	b.WriteString("Estado actual del usuario:\n")
	fmt.Fprintf(&b, "- Estado: %s\n", state)
	fmt.Fprintf(&b, "- Autenticado: %t\n", session.Authenticated)
	if session.ClientName != "" {
		fmt.Fprintf(&b, "- Nombre: %s\n", session.ClientName)
	}
	b.WriteString("\n")
	return b.String()
}

// parseIntent validates a decoded model answer. Keys may be Spanish or English.
func parseIntent(raw map[string]any) (pkg.Intent, error) {
	p := pkg.Params(raw)

	label := firstString(p, "intencion", "intent", "category")
	category, ok := pkg.ParseIntentCategory(label)
	if !ok {
		return pkg.Intent{}, fmt.Errorf("%w: %q", ErrMissingCategory, label)
	}

	intent := pkg.Intent{
		Category:      category,
		Confidence:    0.5,
		Parameters:    firstMap(p, "parametros", "parameters"),
		RequiredQuery: pkg.ParseQueryName(firstString(p, "queryNecesaria", "required_query", "requiredQuery")),
		QueryParams:   firstMap(p, "queryParams", "query_params"),
		Action:        pkg.ParseAction(p.String("action")),
		Notes:         firstString(p, "notas", "notes"),
	}
	for _, key := range []string{"confianza", "confidence"} {
		if c, ok := p.Float(key); ok {
			intent.Confidence = c
			break
		}
	}
	intent.Confidence = pkg.ClampConfidence(intent.Confidence)
	return intent, nil
}

func firstString(p pkg.Params, keys ...string) string {
	for _, k := range keys {
		if s := p.String(k); s != "" {
			return s
		}
	}
	return ""
}

func firstMap(p pkg.Params, keys ...string) pkg.Params {
	for _, k := range keys {
		if m := p.Map(k); m != nil {
			return m
		}
	}
	return pkg.Params{}
}

// createIntentTemplate renders the per-message user prompt
func createIntentTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.UserMessage(`Usuario dice: "{text}"

{history}{session}Analiza el mensaje del usuario y determina su intención principal con todos los parámetros necesarios.`),
	)
}

const intentSystemPrompt = `Eres el clasificador de intenciones del asistente de ventas de KARDEX por chat y voz.

Ten en cuenta:
- El usuario escribe de forma coloquial, a veces con errores o muletillas de voz ("mm", "ehh"). Ignora las muletillas.
- Reconoce variaciones y errores de transcripción de nombres de productos ("lapto" es "laptop", "maus" es "mouse").

INTENCIONES (usa exactamente una):
- VER_CATALOGO: ver los productos disponibles ("catálogo", "productos", "lista", "muéstrame")
- CONSULTAR_PRECIO: precio de un producto ("cuánto cuesta", "precio", "vale", "a cuánto")
- CONSULTAR_STOCK: disponibilidad de un producto ("tienes", "hay", "disponible", "stock")
- BUSCAR_PRODUCTOS: búsqueda con términos o filtros ("buscar", "menos de X", "solo disponibles")
- HACER_PEDIDO: comprar o agregar productos ("quiero", "necesito", "dame", "agregar", "ponme")
- VER_PEDIDO: ver el pedido actual ("mi pedido", "pedido actual", "estado")
- CANCELAR_PEDIDO: cancelar el pedido ("cancelar", "no quiero", "olvídalo")
- CONFIRMAR_PEDIDO: confirmar el pedido ("confirmo", "sí", "ok", "acepto")
- REGISTRAR: crear una cuenta
- LOGIN: iniciar sesión o ver su cuenta
- MODIFICAR_PERFIL: actualizar sus datos
- AYUDA: pide ayuda o comandos
- SALUDO: saluda
- OTRO: nada de lo anterior

QUERIES:
- getProductos: catálogo (queryParams: filters, limit)
- buscarProductos: búsqueda por término (queryParams: term, limit)
- getProducto: un producto (queryParams: nombre o id)
- verificarStock: stock de varios productos (queryParams: productos [{nombre, cantidad}])
- getCliente: datos del cliente (queryParams: phone)
- getPedido: pedido (queryParams: pedidoId o phoneNumber)

Formato de respuesta, un único objeto JSON:
{
  "intencion": "una de las INTENCIONES",
  "confianza": 0.0-1.0,
  "parametros": {"producto": "...", "productos": [{"nombre": "...", "cantidad": 1}], "termino": "...", "filtros": {"precioMaximo": null, "precioMinimo": null, "soloDisponibles": false}},
  "queryNecesaria": "una de las QUERIES o null",
  "queryParams": {},
  "action": "add_products_to_order | view_order | cancel_order | init_order | confirm_order | show_yape_payment | show_plin_payment | remove_product | update_product_quantity | view_order_history | modify_profile | null",
  "notas": "opcional"
}`
