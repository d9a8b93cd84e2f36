package nodes

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"kardex_assistant/pkg"
)

const (
	catalogPromptRows = 20
	searchPromptRows  = 15
	similarPromptRows = 3
)

const baseResponseSystemPrompt = `Eres el asistente de ventas de KARDEX: amable, profesional y útil.
Escribes respuestas naturales y conversacionales para WhatsApp.

FORMATO:
- Markdown de WhatsApp: negritas con *, listas con •
- Respuestas claras y breves
- Emojis con moderación
- Sugerencias útiles cuando corresponda

TONO:
- Cercano pero profesional
- Positivo y orientado a ayudar

Responde solo con el texto del mensaje, sin JSON ni explicaciones.`

// buildSystemPrompt layers the per-request facts over the fixed persona
func buildSystemPrompt(rc pkg.RequestContext) string {
	var facts strings.Builder
	s := rc.SessionState
	if s.State != "" {
		fmt.Fprintf(&facts, "- Estado actual: %s\n", s.State)
	}
	if s.Authenticated {
		facts.WriteString("- Es cliente registrado: Sí\n")
		if s.ClientName != "" {
			fmt.Fprintf(&facts, "- Nombre del cliente: %s\n", s.ClientName)
		}
	}
	if len(rc.History) > 0 {
		facts.WriteString("- Hay conversación anterior\n")
	}
	if rc.IsFromVoice {
		facts.WriteString("- El mensaje llegó por nota de voz\n")
	}
	if facts.Len() == 0 {
		facts.WriteString("- Sin contexto adicional\n")
	}
	return baseResponseSystemPrompt + "\n\nCONTEXTO DEL USUARIO:\n" + facts.String()
}

// buildResponsePrompt returns "" for categories the caller renders itself
func buildResponsePrompt(intent pkg.Intent, data any, session pkg.SessionState) string {
	switch intent.Category {
	case pkg.IntentCatalogBrowse:
		return catalogPrompt(productList(data))
	case pkg.IntentPriceInquiry:
		return pricePrompt(productName(intent), productList(data))
	case pkg.IntentStockInquiry:
		return stockPrompt(productName(intent), productList(data))
	case pkg.IntentProductSearch:
		return searchPrompt(intent, productList(data))
	case pkg.IntentViewOrder:
		return orderPrompt(data)
	case pkg.IntentConfirmOrder, pkg.IntentCancelOrder:
		return ""
	case pkg.IntentHelp:
		return helpPrompt(session)
	case pkg.IntentGreeting:
		return greetingPrompt(session)
	case pkg.IntentPlaceOrder:
		return "El usuario quiere hacer un pedido. Los productos los procesa el sistema de pedidos; confirma que lo estás atendiendo."
	default:
		return genericPrompt(intent, data)
	}
}

func catalogPrompt(products []pkg.Product) string {
	var b strings.Builder
	b.WriteString("Genera una respuesta mostrando el catálogo de productos de KARDEX.\n\n")
	if len(products) == 0 {
		b.WriteString("No hay productos disponibles en este momento.\n\n")
		b.WriteString("Informa esto con amabilidad y sugiere volver a consultar más tarde.")
		return b.String()
	}

	fmt.Fprintf(&b, "PRODUCTOS DISPONIBLES (%d productos):\n\n", len(products))
	for i, p := range limitProducts(products, catalogPromptRows) {
		fmt.Fprintf(&b, "%d. %s - %s %s\n", i+1, p.Name, formatPrice(p.Price), availabilityMark(p))
	}
	if extra := len(products) - catalogPromptRows; extra > 0 {
		fmt.Fprintf(&b, "\n... y %d productos más\n", extra)
	}
	b.WriteString("\nIncluye:\n")
	b.WriteString("- Un título destacado con emoji\n")
	b.WriteString("- La lista con precios y disponibilidad\n")
	b.WriteString("- Cómo pedir o ver más detalles\n")
	b.WriteString("- Sugerencias de búsqueda o filtros\n")
	return b.String()
}

func pricePrompt(name string, products []pkg.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "El usuario pregunta por el precio de: %q\n\n", name)
	if len(products) == 0 {
		fmt.Fprintf(&b, "No se encontró el producto %q.\n\n", name)
		b.WriteString("Informa esto con amabilidad y sugiere verificar el nombre, ver el catálogo o buscar con otros términos.")
		return b.String()
	}

	p := products[0]
	b.WriteString("PRODUCTO ENCONTRADO:\n")
	fmt.Fprintf(&b, "- Nombre: %s\n", p.Name)
	fmt.Fprintf(&b, "- Precio: %s\n", formatPrice(p.Price))
	if p.InStock() {
		fmt.Fprintf(&b, "- Stock: %d unidades\n", p.Stock)
	} else {
		b.WriteString("- Stock: agotado\n")
	}

	similar := products[1:]
	if len(similar) > 0 {
		fmt.Fprintf(&b, "\nPRODUCTOS SIMILARES (%d más):\n", len(similar))
		for i, s := range limitProducts(similar, similarPromptRows) {
			fmt.Fprintf(&b, "%d. %s - %s\n", i+2, s.Name, formatPrice(s.Price))
		}
	}

	b.WriteString("\nResponde destacando el precio, el stock y cómo hacer el pedido.")
	if len(similar) > 0 {
		b.WriteString(" Menciona los productos similares.")
	}
	return b.String()
}

func stockPrompt(name string, products []pkg.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "El usuario pregunta por la disponibilidad de: %q\n\n", name)
	if len(products) == 0 {
		fmt.Fprintf(&b, "No se encontró el producto %q.\n\n", name)
		b.WriteString("Informa esto con amabilidad y sugiere ver el catálogo.")
		return b.String()
	}

	p := products[0]
	b.WriteString("PRODUCTO ENCONTRADO:\n")
	fmt.Fprintf(&b, "- Nombre: %s\n", p.Name)
	fmt.Fprintf(&b, "- Stock disponible: %d unidades\n", p.Stock)
	fmt.Fprintf(&b, "- Precio: %s\n\n", formatPrice(p.Price))
	if p.InStock() {
		b.WriteString("Confirma la disponibilidad, la cantidad disponible y cómo hacer el pedido.")
	} else {
		b.WriteString("Indica que está agotado y sugiere productos similares disponibles.")
	}
	return b.String()
}

func searchPrompt(intent pkg.Intent, products []pkg.Product) string {
	term := firstString(intent.Parameters, "termino", "term", "producto")
	if term == "" {
		term = firstString(intent.QueryParams, "term")
	}
	filters := intent.Parameters.Map("filtros")

	var b strings.Builder
	fmt.Fprintf(&b, "El usuario busca productos con el término: %q\n", term)
	if v, ok := firstFloat(filters, "precioMaximo", "priceMax"); ok && v > 0 {
		fmt.Fprintf(&b, "Filtro: precio máximo %s\n", formatPrice(v))
	}
	if filters.Bool("soloDisponibles") || filters.Bool("availableOnly") {
		b.WriteString("Filtro: solo productos disponibles\n")
	}
	b.WriteString("\n")

	if len(products) == 0 {
		b.WriteString("No se encontraron productos con esos criterios.\n\n")
		b.WriteString("Sugiere cambiar los términos, ver el catálogo completo o probar otros filtros.")
		return b.String()
	}

	fmt.Fprintf(&b, "PRODUCTOS ENCONTRADOS (%d):\n\n", len(products))
	for i, p := range limitProducts(products, searchPromptRows) {
		fmt.Fprintf(&b, "%d. %s - %s %s\n", i+1, p.Name, formatPrice(p.Price), availabilityMark(p))
	}
	b.WriteString("\nIndica cuántos resultados hay, lista los productos y explica cómo pedir o ver detalles.")
	return b.String()
}

func orderPrompt(data any) string {
	var b strings.Builder
	b.WriteString("El usuario quiere ver su pedido actual.\n\n")

	var (
		number string
		total  float64
		lines  []pkg.OrderLine
	)
	switch o := data.(type) {
	case *pkg.Order:
		if o != nil {
			number, total, lines = o.Number, o.Total, o.Lines
		}
	case pkg.Order:
		number, total, lines = o.Number, o.Total, o.Lines
	case *pkg.PendingOrder:
		if o != nil {
			total, lines = o.Total, o.Products
		}
	}

	if len(lines) == 0 {
		b.WriteString("El usuario no tiene un pedido actual.\n\n")
		b.WriteString("Informa esto con amabilidad y sugiere hacer un pedido.")
		return b.String()
	}

	if number == "" {
		number = "En proceso"
	}
	b.WriteString("PEDIDO ACTUAL:\n")
	fmt.Fprintf(&b, "- Número: %s\n", number)
	fmt.Fprintf(&b, "- Total: %s\n\n", formatPrice(total))
	b.WriteString("PRODUCTOS:\n")
	for i, l := range lines {
		name := l.Name
		if name == "" {
			name = "Producto"
		}
		subtotal := l.Subtotal
		if subtotal == 0 {
			subtotal = l.UnitPrice * float64(l.Quantity)
		}
		fmt.Fprintf(&b, "%d. %s x%d = %s\n", i+1, name, l.Quantity, formatPrice(subtotal))
	}
	b.WriteString("\nResume el pedido, destaca el total y ofrece confirmar, modificar o cancelar.")
	return b.String()
}

func helpPrompt(session pkg.SessionState) string {
	state := session.State
	if state == "" {
		state = pkg.StateIdle
	}

	var b strings.Builder
	b.WriteString("El usuario pide ayuda.\n\n")
	b.WriteString("CONTEXTO:\n")
	fmt.Fprintf(&b, "- Estado: %s\n", state)
	fmt.Fprintf(&b, "- Autenticado: %s\n\n", yesNo(session.Authenticated))
	b.WriteString("Genera una ayuda contextual con:\n")
	b.WriteString("- Comandos generales disponibles\n")
	if orderPending(state) {
		b.WriteString("- Comandos del pedido (ver, modificar, confirmar, cancelar)\n")
	}
	if state == pkg.StateAwaitingPayment {
		b.WriteString("- Comandos de pago (Yape, Plin, confirmar pago)\n")
	}
	b.WriteString("- Ejemplos de uso\n")
	b.WriteString("- Consejos útiles")
	return b.String()
}

func greetingPrompt(session pkg.SessionState) string {
	var b strings.Builder
	b.WriteString("El usuario saluda.\n\n")
	b.WriteString("CONTEXTO:\n")
	if session.Authenticated && session.ClientName != "" {
		b.WriteString("- Es cliente registrado\n")
		fmt.Fprintf(&b, "- Nombre: %s\n\n", session.ClientName)
		fmt.Fprintf(&b, "Genera un saludo cálido y personalizado para %s, con:\n", session.ClientName)
	} else {
		b.WriteString("- Usuario nuevo o no autenticado\n\n")
		b.WriteString("Genera un saludo de bienvenida, con:\n")
	}
	b.WriteString("- Bienvenida a KARDEX\n")
	b.WriteString("- Opciones principales (catálogo, pedidos)\n")
	b.WriteString("- Cómo empezar\n")
	b.WriteString("- Invitación a preguntar")
	return b.String()
}

func genericPrompt(intent pkg.Intent, data any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "El usuario tiene la intención: %s\n\n", intent.Category)
	if len(intent.Parameters) > 0 {
		if encoded, err := sonic.ConfigStd.MarshalIndent(intent.Parameters, "", "  "); err == nil {
			fmt.Fprintf(&b, "Parámetros detectados:\n%s\n\n", encoded)
		}
	}
	if data != nil {
		if encoded, err := sonic.ConfigStd.MarshalIndent(data, "", "  "); err == nil {
			fmt.Fprintf(&b, "Datos disponibles:\n%s\n\n", encoded)
		}
	}
	b.WriteString("Genera una respuesta apropiada para esta intención.")
	return b.String()
}

// productList accepts the shapes the executor produces for product queries
func productList(data any) []pkg.Product {
	switch v := data.(type) {
	case []pkg.Product:
		return v
	case *pkg.Product:
		if v != nil {
			return []pkg.Product{*v}
		}
	case pkg.Product:
		return []pkg.Product{v}
	}
	return nil
}

func productName(intent pkg.Intent) string {
	if name := firstString(intent.Parameters, "producto", "product", "nombre"); name != "" {
		return name
	}
	if name := firstString(intent.QueryParams, "term", "nombre"); name != "" {
		return name
	}
	return "producto"
}

func limitProducts(products []pkg.Product, n int) []pkg.Product {
	if len(products) > n {
		return products[:n]
	}
	return products
}

func formatPrice(v float64) string {
	return fmt.Sprintf("S/ %.2f", v)
}

func availabilityMark(p pkg.Product) string {
	if p.InStock() {
		return "✅"
	}
	return "❌"
}

func yesNo(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}
