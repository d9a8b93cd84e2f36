package nodes

import (
	"context"
	"fmt"
	"strings"

	"kardex_assistant/internal/llm"
	"kardex_assistant/internal/logger"
	"kardex_assistant/pkg"
)

const (
	orderTemperature    = 0.3
	orderHistoryTurns   = 4
	msgNoOrderProducts  = "No pude identificar los productos de tu pedido. 🤔\n\n💡 Ejemplo: *\"Quiero 2 mouse Logitech y 1 teclado\"*"
	msgNoStockForOrder  = "😕 No tengo stock suficiente para los productos que pediste."
	msgProductsNotFound = "🔍 No encontré estos productos en el catálogo"
)

// OrderOutcome is the verdict of an order-processing attempt. A failed outcome with Intent set
// means the text was not an order and should be handled as that intent instead.
type OrderOutcome struct {
	Success bool
	Action  pkg.Action
	Intent  pkg.IntentCategory
	Message string
	Data    any
}

// OrderProcessor handles place-order messages outside the generic pipeline
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, text string, history []pkg.ConversationMessage) (OrderOutcome, error)
}

// StockChecker resolves requested lines against the catalog
type StockChecker interface {
	CheckStock(ctx context.Context, items []pkg.StockRequest) pkg.StockReport
}

// OrderDraft is the data of a successful order outcome
type OrderDraft struct {
	Products     []pkg.OrderLine `json:"productos"`
	NotFound     []pkg.StockLine `json:"noEncontrados"`
	Insufficient []pkg.StockLine `json:"stockInsuficiente"`
	Total        float64         `json:"total"`
}

// ModelOrderProcessor extracts order lines with the orders profile and validates them against stock
type ModelOrderProcessor struct {
	completion Completion
	stock      StockChecker
}

// NewModelOrderProcessor creates an order processor
func NewModelOrderProcessor(completion Completion, stock StockChecker) *ModelOrderProcessor {
	return &ModelOrderProcessor{completion: completion, stock: stock}
}

// ProcessOrder returns an error only when the model could not be consulted
func (p *ModelOrderProcessor) ProcessOrder(ctx context.Context, text string, history []pkg.ConversationMessage) (OrderOutcome, error) {
	raw, err := p.completion.CompleteJSON(ctx, buildOrderPrompt(text, history), orderSystemPrompt, llm.TaskOrders, llm.WithTemperature(orderTemperature))
	if err != nil {
		return OrderOutcome{}, fmt.Errorf("extract order lines: %w", err)
	}

	params := pkg.Params(raw)
	items := stockRequests(params)
	if len(items) == 0 {
		if category, ok := pkg.ParseIntentCategory(firstString(params, "intencion", "intent")); ok && category != pkg.IntentPlaceOrder {
			logger.Info().Str("intent", string(category)).Msg("Order text carries another intent")
			return OrderOutcome{Intent: category}, nil
		}
		return OrderOutcome{Message: msgNoOrderProducts}, nil
	}

	report := p.stock.CheckStock(ctx, items)
	draft := OrderDraft{Products: []pkg.OrderLine{}, NotFound: []pkg.StockLine{}, Insufficient: []pkg.StockLine{}}
	for _, line := range report.Available {
		subtotal := line.Price * float64(line.Requested)
		draft.Products = append(draft.Products, pkg.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Requested,
			UnitPrice: line.Price,
			Subtotal:  subtotal,
		})
		draft.Total += subtotal
	}
	for _, line := range report.Unavailable {
		if line.Reason == pkg.StockReasonNotFound {
			draft.NotFound = append(draft.NotFound, line)
		} else {
			draft.Insufficient = append(draft.Insufficient, line)
		}
	}

	logger.Info().
		Int("products", len(draft.Products)).
		Int("not_found", len(draft.NotFound)).
		Int("insufficient", len(draft.Insufficient)).
		Float64("total", draft.Total).
		Msg("Order lines validated")

	if len(draft.Products) == 0 {
		return OrderOutcome{Message: unavailableOrderMessage(draft), Data: draft}, nil
	}
	return OrderOutcome{Success: true, Action: pkg.ActionAddProductsToOrder, Data: draft}, nil
}

func unavailableOrderMessage(d OrderDraft) string {
	var b strings.Builder
	if len(d.NotFound) > 0 {
		names := make([]string, 0, len(d.NotFound))
		for _, l := range d.NotFound {
			names = append(names, l.Name)
		}
		fmt.Fprintf(&b, "%s: %s.\n", msgProductsNotFound, strings.Join(names, ", "))
	}
	if len(d.Insufficient) > 0 {
		b.WriteString(msgNoStockForOrder + "\n")
		for _, l := range d.Insufficient {
			fmt.Fprintf(&b, "• %s: pediste %d, hay %d\n", l.Name, l.Requested, l.Stock)
		}
	}
	b.WriteString("\n💡 Di *\"CATALOGO\"* para ver los productos disponibles.")
	return b.String()
}

func buildOrderPrompt(text string, history []pkg.ConversationMessage) string {
	var b strings.Builder
	if len(history) > orderHistoryTurns {
		history = history[len(history)-orderHistoryTurns:]
	}
	if len(history) > 0 {
		b.WriteString("Conversación reciente:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "- %s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Mensaje del cliente: %q\n\nExtrae los productos y cantidades que quiere pedir.", text)
	return b.String()
}

const orderSystemPrompt = `Extraes pedidos de clientes de KARDEX.

Devuelve un objeto JSON:
{"productos": [{"nombre": "nombre del producto tal como lo dijo", "cantidad": 1}]}

Reglas:
- Si no indica cantidad, usa 1.
- Los números escritos en palabras ("dos", "tres") son cantidades.
- Si el mensaje no es un pedido, devuelve {"productos": [], "intencion": "<intención real>"} usando una de: VER_CATALOGO, CONSULTAR_PRECIO, CONSULTAR_STOCK, BUSCAR_PRODUCTOS, VER_PEDIDO, AYUDA, SALUDO, OTRO.`
