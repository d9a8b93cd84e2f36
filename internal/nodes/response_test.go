package nodes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kardex_assistant/internal/cache"
	"kardex_assistant/internal/llm"
	"kardex_assistant/internal/services"
	"kardex_assistant/pkg"
)

func newTestGenerator(c Completion) *ResponseGenerator {
	return NewResponseGenerator(c, cache.New(cache.DefaultConfig()), nil)
}

func TestGenerateActionOnly(t *testing.T) {
	fake := &fakeCompletion{text: "ignored"}
	g := newTestGenerator(fake)

	for _, category := range []pkg.IntentCategory{pkg.IntentConfirmOrder, pkg.IntentCancelOrder} {
		payload := g.Generate(context.Background(), pkg.Intent{Category: category, Action: pkg.ActionConfirmOrder}, "data", pkg.RequestContext{})
		assert.Nil(t, payload.Text)
		assert.Equal(t, "data", payload.Data)
		assert.Empty(t, payload.Buttons)
	}
	assert.Zero(t, fake.callCount())
}

func TestGenerateModelFailureUsesTemplate(t *testing.T) {
	g := newTestGenerator(&fakeCompletion{err: errUnavailable})

	payload := g.Generate(context.Background(), pkg.Intent{Category: pkg.IntentGreeting}, nil, pkg.RequestContext{})
	require.NotNil(t, payload.Text)
	assert.True(t, strings.HasPrefix(*payload.Text, "👋 *¡Hola! Bienvenido a KARDEX* 👋"))

	payload = g.Generate(context.Background(), pkg.Intent{Category: pkg.IntentCategory("desconocida")}, nil, pkg.RequestContext{})
	require.NotNil(t, payload.Text)
	assert.True(t, strings.HasPrefix(*payload.Text, "👋 *¡Hola!* 👋\n\nNo estoy seguro de haberte entendido."))
}

func TestGenerateNilCompletionUsesTemplate(t *testing.T) {
	g := NewResponseGenerator(nil, nil, nil)
	payload := g.Generate(context.Background(), pkg.Intent{Category: pkg.IntentHelp}, nil, pkg.RequestContext{})
	require.NotNil(t, payload.Text)
	assert.Equal(t, fallbackTemplates[pkg.IntentHelp], *payload.Text)
}

func TestGenerateCatalogButtonsAndCache(t *testing.T) {
	fake := &fakeCompletion{text: "  🛍️ Nuestro catálogo  "}
	g := newTestGenerator(fake)
	products := services.DemoProducts()
	intent := pkg.Intent{Category: pkg.IntentCatalogBrowse}

	payload := g.Generate(context.Background(), intent, products, pkg.RequestContext{})
	require.NotNil(t, payload.Text)
	assert.Equal(t, "🛍️ Nuestro catálogo", *payload.Text)
	assert.Equal(t, []pkg.Button{
		{Label: "🔍 Buscar", ID: "search"},
		{Label: "🛒 Hacer Pedido", ID: "order"},
	}, payload.Buttons)
	assert.Equal(t, products, payload.Data)
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, llm.TaskConversation, fake.tasks[0])
	assert.Contains(t, fake.lastPrompt(), "Mouse Logitech M170 - S/ 39.90 ✅")
	assert.Contains(t, fake.lastPrompt(), "Teclado Redragon Kumara - S/ 149.00 ❌")

	again := g.Generate(context.Background(), intent, products, pkg.RequestContext{})
	assert.Equal(t, payload.Text, again.Text)
	assert.Equal(t, payload.Buttons, again.Buttons)
	assert.Equal(t, 1, fake.callCount())
}

func TestGeneratePriceNotCached(t *testing.T) {
	fake := &fakeCompletion{text: "El mouse cuesta S/ 39.90"}
	g := newTestGenerator(fake)
	intent := pkg.Intent{Category: pkg.IntentPriceInquiry, Parameters: pkg.Params{"product": "mouse"}}
	products := []pkg.Product{services.DemoProducts()[1]}

	payload := g.Generate(context.Background(), intent, products, pkg.RequestContext{})
	assert.Len(t, payload.Buttons, 2)
	assert.Equal(t, "add_to_order", payload.Buttons[0].ID)

	g.Generate(context.Background(), intent, products, pkg.RequestContext{})
	assert.Equal(t, 2, fake.callCount())
}

func TestGeneratePriceWithoutDataHasNoButtons(t *testing.T) {
	fake := &fakeCompletion{text: "No encontré ese producto"}
	g := newTestGenerator(fake)

	payload := g.Generate(context.Background(), pkg.Intent{Category: pkg.IntentPriceInquiry, Parameters: pkg.Params{"product": "drone"}}, []pkg.Product{}, pkg.RequestContext{})
	require.NotNil(t, payload.Text)
	assert.Empty(t, payload.Buttons)
	assert.Contains(t, fake.lastPrompt(), `No se encontró el producto "drone"`)
}

func TestGenerateViewOrderButtons(t *testing.T) {
	g := newTestGenerator(&fakeCompletion{text: "Tu pedido"})
	order := &pkg.PendingOrder{Total: 79.8, Products: []pkg.OrderLine{{Name: "Mouse", Quantity: 2, UnitPrice: 39.9}}}

	payload := g.Generate(context.Background(), pkg.Intent{Category: pkg.IntentViewOrder}, order, pkg.RequestContext{})
	var ids []string
	for _, b := range payload.Buttons {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"confirm_order", "modify_order", "cancel_order"}, ids)
}

func TestGenerateSystemPromptCarriesClient(t *testing.T) {
	fake := &fakeCompletion{text: "¡Hola María!"}
	g := newTestGenerator(fake)
	rc := pkg.RequestContext{
		SessionState: pkg.SessionState{State: pkg.StateIdle, Authenticated: true, ClientName: "María"},
		History:      []pkg.ConversationMessage{{Role: "user", Content: "hola"}},
		IsFromVoice:  true,
	}

	g.Generate(context.Background(), pkg.Intent{Category: pkg.IntentGreeting}, nil, rc)

	require.Len(t, fake.systems, 1)
	system := fake.systems[0]
	assert.Contains(t, system, "- Nombre del cliente: María")
	assert.Contains(t, system, "- Estado actual: idle")
	assert.Contains(t, system, "- Hay conversación anterior")
	assert.Contains(t, system, "nota de voz")
	assert.Contains(t, fake.lastPrompt(), "personalizado para María")
}

func TestBuildSystemPromptWithoutContext(t *testing.T) {
	assert.Contains(t, buildSystemPrompt(pkg.RequestContext{}), "- Sin contexto adicional")
}

func TestHelpPromptByState(t *testing.T) {
	idle := helpPrompt(pkg.SessionState{})
	assert.Contains(t, idle, "- Estado: idle")
	assert.NotContains(t, idle, "Comandos del pedido")

	pending := helpPrompt(pkg.SessionState{State: pkg.StateAwaitingConfirmation})
	assert.Contains(t, pending, "Comandos del pedido")

	paying := helpPrompt(pkg.SessionState{State: pkg.StateAwaitingPayment})
	assert.Contains(t, paying, "Comandos de pago")
}

func TestCatalogPromptTruncates(t *testing.T) {
	products := make([]pkg.Product, 25)
	for i := range products {
		products[i] = pkg.Product{ID: int64(i + 1), Name: "Producto", Price: 10, Stock: 1}
	}
	prompt := catalogPrompt(products)
	assert.Contains(t, prompt, "(25 productos)")
	assert.Contains(t, prompt, "20. Producto")
	assert.NotContains(t, prompt, "21. Producto")
	assert.Contains(t, prompt, "... y 5 productos más")
}

func TestResponseCacheKey(t *testing.T) {
	assert.Empty(t, responseCacheKey(pkg.IntentPriceInquiry, "prompt"))

	key := responseCacheKey(pkg.IntentHelp, "prompt")
	assert.True(t, strings.HasPrefix(key, "response:help:"))
	assert.Len(t, key, len("response:help:")+16)

	base := strings.Repeat("a", 200)
	assert.Equal(t, responseCacheKey(pkg.IntentGreeting, base+"x"), responseCacheKey(pkg.IntentGreeting, base+"y"))
}

func TestResponseCacheKeyCountsCharacters(t *testing.T) {
	// 200 two-byte runes: a byte cut would keep only the first 100
	base := strings.Repeat("á", 200)
	assert.Equal(t, responseCacheKey(pkg.IntentCatalogBrowse, base+"x"), responseCacheKey(pkg.IntentCatalogBrowse, base+"y"))

	half := strings.Repeat("á", 100)
	assert.NotEqual(t,
		responseCacheKey(pkg.IntentCatalogBrowse, half+strings.Repeat("a", 100)),
		responseCacheKey(pkg.IntentCatalogBrowse, half+strings.Repeat("b", 100)))
}
