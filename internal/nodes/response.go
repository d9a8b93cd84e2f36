package nodes

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"kardex_assistant/internal/cache"
	"kardex_assistant/internal/llm"
	"kardex_assistant/internal/logger"
	"kardex_assistant/internal/metrics"
	"kardex_assistant/pkg"
)

const (
	responseTemperature = 0.5
	responseHashInput   = 200
	responseHashHex     = 16
)

// cachedResponse is what the response namespace holds for cacheable categories
type cachedResponse struct {
	Text    string
	Buttons []pkg.Button
}

// ResponseGenerator turns an intent and its fetched data into customer-facing text
type ResponseGenerator struct {
	completion Completion
	cache      *cache.Service
	metrics    *metrics.Metrics
}

// NewResponseGenerator creates a generator. A nil completion always answers with templates.
func NewResponseGenerator(completion Completion, c *cache.Service, m *metrics.Metrics) *ResponseGenerator {
	if c == nil {
		c = cache.New(cache.DefaultConfig())
	}
	return &ResponseGenerator{
		completion: completion,
		cache:      c,
		metrics:    m,
	}
}

// Generate never fails: a model failure yields the category's fallback template
func (g *ResponseGenerator) Generate(ctx context.Context, intent pkg.Intent, data any, rc pkg.RequestContext) (payload pkg.ResponsePayload) {
	if intent.Category.IsActionOnly() {
		return pkg.ResponsePayload{Data: data}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("category", string(intent.Category)).Msg("Response generation panicked")
			payload = fallbackResponse(intent, data)
		}
	}()

	userPrompt := buildResponsePrompt(intent, data, rc.SessionState)
	if userPrompt == "" {
		return pkg.ResponsePayload{Data: data}
	}

	key := responseCacheKey(intent.Category, userPrompt)
	if key != "" {
		if cached, ok := g.cache.GetResponse(key); ok {
			if r, ok := cached.(cachedResponse); ok {
				return pkg.ResponsePayload{Text: pkg.StringPtr(r.Text), Data: data, Buttons: r.Buttons}
			}
		}
	}

	if g.completion == nil {
		return fallbackResponse(intent, data)
	}

	start := time.Now()
	text, err := g.completion.Complete(ctx, userPrompt, buildSystemPrompt(rc), llm.TaskConversation, llm.WithTemperature(responseTemperature))
	g.metrics.ObserveStage("response", time.Since(start))
	if err != nil {
		logger.Warn().Err(err).Str("category", string(intent.Category)).Msg("Response model failed, using template")
		return fallbackResponse(intent, data)
	}

	text = strings.TrimSpace(text)
	buttons := buttonsFor(intent.Category, data)
	if key != "" && text != "" {
		g.cache.SetResponse(key, cachedResponse{Text: text, Buttons: buttons})
	}

	logger.Debug().
		Str("category", string(intent.Category)).
		Int("text_length", len(text)).
		Int("buttons", len(buttons)).
		Msg("Response generated")

	return pkg.ResponsePayload{Text: pkg.StringPtr(text), Data: data, Buttons: buttons}
}

// responseCacheKey is empty for categories whose replies are not cached
func responseCacheKey(category pkg.IntentCategory, prompt string) string {
	switch category {
	case pkg.IntentCatalogBrowse, pkg.IntentHelp, pkg.IntentGreeting:
	default:
		return ""
	}
	head := prompt
	if r := []rune(head); len(r) > responseHashInput {
		head = string(r[:responseHashInput])
	}
	sum := md5.Sum([]byte(head))
	return fmt.Sprintf("response:%s:%s", category, hex.EncodeToString(sum[:])[:responseHashHex])
}

// buttonsFor derives quick replies from the category alone, plus data presence for price and stock
func buttonsFor(category pkg.IntentCategory, data any) []pkg.Button {
	switch category {
	case pkg.IntentCatalogBrowse:
		return []pkg.Button{
			{Label: "🔍 Buscar", ID: "search"},
			{Label: "🛒 Hacer Pedido", ID: "order"},
		}
	case pkg.IntentPriceInquiry, pkg.IntentStockInquiry:
		if len(productList(data)) == 0 {
			return nil
		}
		return []pkg.Button{
			{Label: "🛒 Agregar al Pedido", ID: "add_to_order"},
			{Label: "📋 Ver Catálogo", ID: "catalog"},
		}
	case pkg.IntentViewOrder:
		return []pkg.Button{
			{Label: "✅ Confirmar", ID: "confirm_order"},
			{Label: "✏️ Modificar", ID: "modify_order"},
			{Label: "❌ Cancelar", ID: "cancel_order"},
		}
	default:
		return nil
	}
}

var fallbackTemplates = map[pkg.IntentCategory]string{
	pkg.IntentCatalogBrowse: "🛍️ *CATÁLOGO DE PRODUCTOS*\n\nAquí están nuestros productos disponibles.\n\n💬 Escribe el nombre de un producto para ver más detalles o di *\"AYUDA\"* para ver opciones.",
	pkg.IntentPriceInquiry:  "💰 *CONSULTA DE PRECIO*\n\nDime el nombre del producto que te interesa.\n\n💡 Ejemplo: *\"¿Cuánto cuesta una laptop?\"*",
	pkg.IntentStockInquiry:  "📦 *CONSULTA DE STOCK*\n\nDime el nombre del producto.\n\n💡 Ejemplo: *\"¿Tienes laptops disponibles?\"*",
	pkg.IntentHelp:          "🤖 *AYUDA*\n\nPuedo ayudarte con:\n• Ver el catálogo de productos\n• Consultar precios y stock\n• Hacer pedidos\n• Ver el estado de tus pedidos\n\n💬 Di *\"CATALOGO\"* para empezar.",
	pkg.IntentGreeting:      "👋 *¡Hola! Bienvenido a KARDEX* 👋\n\n¿En qué puedo ayudarte hoy?\n\n💡 Di *\"CATALOGO\"* para ver productos o *\"AYUDA\"* para más opciones.",
	pkg.IntentOther:         "👋 *¡Hola!* 👋\n\nNo estoy seguro de haberte entendido.\n\n💡 Di *\"AYUDA\"* para ver qué puedo hacer por ti.",
}

// fallbackResponse picks the fixed template for the category, defaulting to the one for other
func fallbackResponse(intent pkg.Intent, data any) pkg.ResponsePayload {
	text, ok := fallbackTemplates[intent.Category]
	if !ok {
		text = fallbackTemplates[pkg.IntentOther]
	}
	return pkg.ResponsePayload{Text: pkg.StringPtr(text), Data: data}
}
