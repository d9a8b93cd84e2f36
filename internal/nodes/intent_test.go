package nodes

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kardex_assistant/internal/cache"
	"kardex_assistant/internal/llm"
	"kardex_assistant/pkg"
)

func newTestResolver(c Completion) *IntentResolver {
	return NewIntentResolver(c, cache.New(cache.DefaultConfig()), nil)
}

func TestResolveFallbackScenarios(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		session  pkg.SessionState
		category pkg.IntentCategory
		query    pkg.QueryName
		minConf  float64
		action   pkg.Action
	}{
		{name: "catalog", text: "catalogo", category: pkg.IntentCatalogBrowse, query: pkg.QueryGetCatalog, minConf: 0.7},
		{name: "catalog with accent", text: "¿Me muestras el Catálogo?", category: pkg.IntentCatalogBrowse, query: pkg.QueryGetCatalog, minConf: 0.7},
		{name: "price", text: "cuanto cuesta el mouse", category: pkg.IntentPriceInquiry, query: pkg.QueryProductSearch, minConf: 0.7},
		{name: "stock", text: "¿tienes laptops?", category: pkg.IntentStockInquiry, query: pkg.QueryProductSearch, minConf: 0.7},
		{name: "order", text: "quiero dos teclados", category: pkg.IntentPlaceOrder, minConf: 0.7, action: pkg.ActionInitOrder},
		{name: "view order", text: "ver pedido", category: pkg.IntentViewOrder, query: pkg.QueryGetOrder, minConf: 0.7, action: pkg.ActionViewOrder},
		{name: "confirm while awaiting", text: "sí", session: pkg.SessionState{State: pkg.StateAwaitingConfirmation}, category: pkg.IntentConfirmOrder, minConf: 0.8, action: pkg.ActionConfirmOrder},
		{name: "confirm while idle falls through", text: "ok", category: pkg.IntentOther, minConf: 0.3},
		{name: "cancel", text: "cancelar", category: pkg.IntentCancelOrder, minConf: 0.7, action: pkg.ActionCancelOrder},
		{name: "greeting", text: "hola", category: pkg.IntentGreeting, minConf: 0.7},
		{name: "help", text: "ayuda", category: pkg.IntentHelp, minConf: 0.8},
		{name: "no pattern", text: "xyz qwerty", category: pkg.IntentOther, minConf: 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(&fakeCompletion{err: errUnavailable})
			intent := r.Resolve(context.Background(), tt.text, tt.session, nil)

			assert.Equal(t, tt.category, intent.Category)
			assert.Equal(t, tt.query, intent.RequiredQuery)
			assert.Equal(t, tt.action, intent.Action)
			assert.GreaterOrEqual(t, intent.Confidence, tt.minConf)
			assert.LessOrEqual(t, intent.Confidence, 1.0)
		})
	}
}

func TestResolvePriceExtractsProduct(t *testing.T) {
	r := newTestResolver(&fakeCompletion{err: errUnavailable})
	intent := r.Resolve(context.Background(), "cuanto cuesta el mouse", pkg.SessionState{}, nil)

	assert.Equal(t, "mouse", intent.Parameters.String("product"))
	assert.Equal(t, pkg.QueryProductSearch, intent.RequiredQuery)
	assert.Equal(t, "mouse", intent.QueryParams.String("term"))
}

func TestResolveNoPatternIsOtherAtPointThree(t *testing.T) {
	r := newTestResolver(&fakeCompletion{err: errUnavailable})
	intent := r.Resolve(context.Background(), "xyz qwerty", pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentOther, intent.Category)
	assert.Equal(t, 0.3, intent.Confidence)
}

func TestResolveBlankSkipsModel(t *testing.T) {
	fake := &fakeCompletion{}
	r := newTestResolver(fake)

	intent := r.Resolve(context.Background(), "   ", pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentOther, intent.Category)
	assert.Equal(t, 0.1, intent.Confidence)
	assert.Zero(t, fake.callCount())
}

func TestResolveModelResult(t *testing.T) {
	fake := &fakeCompletion{json: map[string]any{
		"intencion":      "CONSULTAR_STOCK",
		"confianza":      1.7,
		"parametros":     map[string]any{"producto": "laptop"},
		"queryNecesaria": "buscarProductos",
		"queryParams":    map[string]any{"term": "laptop", "limit": float64(3)},
		"action":         "null",
	}}
	r := newTestResolver(fake)

	intent := r.Resolve(context.Background(), "Hay laptops?", pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentStockInquiry, intent.Category)
	assert.Equal(t, 1.0, intent.Confidence)
	assert.Equal(t, pkg.QueryProductSearch, intent.RequiredQuery)
	assert.Equal(t, pkg.ActionNone, intent.Action)
	assert.Equal(t, "laptop", intent.Parameters.String("producto"))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, llm.TaskQueries, fake.tasks[0])

	again := r.Resolve(context.Background(), "  hay LAPTOPS?  ", pkg.SessionState{}, nil)
	assert.Equal(t, intent, again)
	assert.Equal(t, 1, fake.callCount())
}

func TestResolveEnglishKeys(t *testing.T) {
	fake := &fakeCompletion{json: map[string]any{
		"category":       "view_order",
		"confidence":     0.9,
		"required_query": "getOrder",
		"action":         "view_order",
	}}
	intent := newTestResolver(fake).Resolve(context.Background(), "donde esta lo mio", pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentViewOrder, intent.Category)
	assert.Equal(t, pkg.QueryGetOrder, intent.RequiredQuery)
	assert.Equal(t, pkg.ActionViewOrder, intent.Action)
}

func TestResolveMissingCategoryFallsBack(t *testing.T) {
	fake := &fakeCompletion{json: map[string]any{"confianza": 0.9}}
	intent := newTestResolver(fake).Resolve(context.Background(), "catalogo", pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentCatalogBrowse, intent.Category)
	assert.Equal(t, 0.7, intent.Confidence)

	fake = &fakeCompletion{json: map[string]any{"intencion": "COMPRAR_TODO"}}
	intent = newTestResolver(fake).Resolve(context.Background(), "hola", pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentGreeting, intent.Category)
}

func TestResolveNilCompletionUsesFallback(t *testing.T) {
	intent := NewIntentResolver(nil, nil, nil).Resolve(context.Background(), "catalogo", pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentCatalogBrowse, intent.Category)
}

func TestResolveSessionDependentFallbackNotCached(t *testing.T) {
	r := newTestResolver(&fakeCompletion{err: errUnavailable})

	idle := r.Resolve(context.Background(), "si", pkg.SessionState{State: pkg.StateIdle}, nil)
	assert.Equal(t, pkg.IntentOther, idle.Category)

	awaiting := r.Resolve(context.Background(), "si", pkg.SessionState{State: pkg.StateAwaitingConfirmation}, nil)
	assert.Equal(t, pkg.IntentConfirmOrder, awaiting.Category)
}

func TestResolveFallbackCachedForSameText(t *testing.T) {
	fake := &fakeCompletion{err: errUnavailable}
	r := newTestResolver(fake)

	first := r.Resolve(context.Background(), "catalogo", pkg.SessionState{}, nil)
	second := r.Resolve(context.Background(), "CATALOGO ", pkg.SessionState{}, nil)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.callCount())

	r.Resolve(context.Background(), "catalogo por favor", pkg.SessionState{}, nil)
	assert.Equal(t, 2, fake.callCount())
}

func TestResolvePromptCarriesContext(t *testing.T) {
	fake := &fakeCompletion{json: map[string]any{"intencion": "OTRO", "confianza": 0.4}}
	r := newTestResolver(fake)

	var history []pkg.ConversationMessage
	for i := 1; i <= 5; i++ {
		role := "user"
		if i%2 == 0 {
			role = "assistant"
		}
		history = append(history, pkg.ConversationMessage{Role: role, Content: fmt.Sprintf("mensaje %d", i)})
	}
	long := ""
	for i := 0; i < 150; i++ {
		long += "x"
	}
	history[4].Content = long

	session := pkg.SessionState{State: pkg.StateInProgress, Authenticated: true, ClientName: "María"}
	r.Resolve(context.Background(), "algo {raro}", session, history)

	prompt := fake.lastPrompt()
	assert.Contains(t, prompt, `Usuario dice: "algo {raro}"`)
	assert.NotContains(t, prompt, "mensaje 2")
	assert.Contains(t, prompt, "1. Usuario: mensaje 3")
	assert.Contains(t, prompt, "2. Bot: mensaje 4")
	assert.Contains(t, prompt, "3. Usuario: "+long[:100]+"\n")
	assert.Contains(t, prompt, "- Estado: in_progress")
	assert.Contains(t, prompt, "- Autenticado: true")
	assert.Contains(t, prompt, "- Nombre: María")
}

func TestIntentCacheKey(t *testing.T) {
	assert.Equal(t, "intent_hola", intentCacheKey("  HOLA "))
	long := intentCacheKey("quiero comprar un mouse inalambrico y tambien un teclado mecanico")
	assert.Len(t, []rune(long), len("intent_")+50)
}

func TestExtractProductName(t *testing.T) {
	assert.Equal(t, "mouse", extractProductName("¿Cuánto cuesta el mouse?"))
	assert.Equal(t, "laptop lenovo", extractProductName("precio de la laptop lenovo"))
	assert.Equal(t, "precio", extractProductName("precio"))
	assert.Equal(t, "", extractProductName("¿a?"))
}

func TestFallbackClassifierClassify(t *testing.T) {
	f := NewFallbackClassifier()

	intent := f.Classify("Cancelar", pkg.SessionState{})
	assert.Equal(t, pkg.IntentCancelOrder, intent.Category)
	assert.Equal(t, pkg.ActionCancelOrder, intent.Action)

	intent = f.Classify("xyz qwerty", pkg.SessionState{})
	assert.Equal(t, pkg.IntentOther, intent.Category)
	assert.InDelta(t, 0.3, intent.Confidence, 0.001)
}

func TestResolveLongTextsSharingKeyPrefix(t *testing.T) {
	catalog := "buenas tardes, quisiera saber por favor si me pueden mostrar el catalogo"
	cancel := "buenas tardes, quisiera saber por favor si me pueden cancelar el pedido"
	require.Equal(t, intentCacheKey(catalog), intentCacheKey(cancel))

	fake := &fakeCompletion{json: map[string]any{"intencion": "VER_CATALOGO", "confianza": 0.9}}
	r := newTestResolver(fake)

	first := r.Resolve(context.Background(), catalog, pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentCatalogBrowse, first.Category)

	fake.json = map[string]any{"intencion": "CANCELAR_PEDIDO", "confianza": 0.9, "action": "cancel_order"}
	second := r.Resolve(context.Background(), cancel, pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentCancelOrder, second.Category)
	assert.Equal(t, 2, fake.callCount())

	// the newer text now owns the shared key
	fake.json = map[string]any{"intencion": "SALUDO", "confianza": 0.9}
	again := r.Resolve(context.Background(), cancel, pkg.SessionState{}, nil)
	assert.Equal(t, pkg.IntentCancelOrder, again.Category)
	assert.Equal(t, 2, fake.callCount())
}
