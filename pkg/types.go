package pkg

import (
	"strings"
	"time"
)

// Core types shared by the intent → query → response pipeline

// IntentCategory is the closed set of things a customer message can ask for
type IntentCategory string

const (
	IntentCatalogBrowse IntentCategory = "catalog_browse"
	IntentPriceInquiry  IntentCategory = "price_inquiry"
	IntentStockInquiry  IntentCategory = "stock_inquiry"
	IntentProductSearch IntentCategory = "product_search"
	IntentPlaceOrder    IntentCategory = "place_order"
	IntentViewOrder     IntentCategory = "view_order"
	IntentCancelOrder   IntentCategory = "cancel_order"
	IntentConfirmOrder  IntentCategory = "confirm_order"
	IntentRegister      IntentCategory = "register"
	IntentLogin         IntentCategory = "login"
	IntentUpdateProfile IntentCategory = "update_profile"
	IntentHelp          IntentCategory = "help"
	IntentGreeting      IntentCategory = "greeting"
	IntentOther         IntentCategory = "other"
)

// AllIntentCategories lists every category in prompt order
var AllIntentCategories = []IntentCategory{
	IntentCatalogBrowse, IntentPriceInquiry, IntentStockInquiry, IntentProductSearch,
	IntentPlaceOrder, IntentViewOrder, IntentCancelOrder, IntentConfirmOrder,
	IntentRegister, IntentLogin, IntentUpdateProfile, IntentHelp, IntentGreeting, IntentOther,
}

// Labels the model was historically prompted with
var intentAliases = map[string]IntentCategory{
	"VER_CATALOGO":     IntentCatalogBrowse,
	"CONSULTAR_PRECIO": IntentPriceInquiry,
	"CONSULTAR_STOCK":  IntentStockInquiry,
	"BUSCAR_PRODUCTOS": IntentProductSearch,
	"HACER_PEDIDO":     IntentPlaceOrder,
	"VER_PEDIDO":       IntentViewOrder,
	"CANCELAR_PEDIDO":  IntentCancelOrder,
	"CONFIRMAR_PEDIDO": IntentConfirmOrder,
	"REGISTRAR":        IntentRegister,
	"LOGIN":            IntentLogin,
	"MODIFICAR_PERFIL": IntentUpdateProfile,
	"AYUDA":            IntentHelp,
	"SALUDO":           IntentGreeting,
	"OTRO":             IntentOther,
}

// ParseIntentCategory maps a canonical or legacy label onto the closed set
func ParseIntentCategory(s string) (IntentCategory, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if c, ok := intentAliases[strings.ToUpper(s)]; ok {
		return c, true
	}
	norm := IntentCategory(strings.ReplaceAll(strings.ToLower(s), "-", "_"))
	for _, c := range AllIntentCategories {
		if c == norm {
			return c, true
		}
	}
	return "", false
}

// IsActionOnly reports whether the caller renders its own text for this category
func (c IntentCategory) IsActionOnly() bool {
	return c == IntentConfirmOrder || c == IntentCancelOrder
}

// QueryName is the closed set of data lookups an intent may require
type QueryName string

const (
	QueryNone          QueryName = ""
	QueryGetCatalog    QueryName = "getCatalog"
	QueryProductSearch QueryName = "productSearch"
	QueryGetOne        QueryName = "getOne"
	QueryCheckStock    QueryName = "checkStock"
	QueryGetCustomer   QueryName = "getCustomer"
	QueryGetOrder      QueryName = "getOrder"
)

var queryAliases = map[string]QueryName{
	"getproductos":    QueryGetCatalog,
	"buscarproductos": QueryProductSearch,
	"getproducto":     QueryGetOne,
	"verificarstock":  QueryCheckStock,
	"getcliente":      QueryGetCustomer,
	"getpedido":       QueryGetOrder,
}

// ParseQueryName maps a model-provided query label. Empty, "null" and "none" map to QueryNone.
// Unrecognized labels are returned verbatim so the executor can report them.
func ParseQueryName(s string) QueryName {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "none":
		return QueryNone
	}
	for _, q := range []QueryName{QueryGetCatalog, QueryProductSearch, QueryGetOne, QueryCheckStock, QueryGetCustomer, QueryGetOrder} {
		if strings.EqualFold(string(q), s) {
			return q
		}
	}
	if q, ok := queryAliases[strings.ToLower(s)]; ok {
		return q
	}
	return QueryName(s)
}

// Action is a caller-side directive for follow-up business logic
type Action string

const (
	ActionNone                  Action = ""
	ActionAddProductsToOrder    Action = "add_products_to_order"
	ActionViewOrder             Action = "view_order"
	ActionCancelOrder           Action = "cancel_order"
	ActionInitOrder             Action = "init_order"
	ActionConfirmOrder          Action = "confirm_order"
	ActionShowYapePayment       Action = "show_yape_payment"
	ActionShowPlinPayment       Action = "show_plin_payment"
	ActionRemoveProduct         Action = "remove_product"
	ActionUpdateProductQuantity Action = "update_product_quantity"
	ActionViewOrderHistory      Action = "view_order_history"
	ActionModifyProfile         Action = "modify_profile"
)

var allActions = []Action{
	ActionAddProductsToOrder, ActionViewOrder, ActionCancelOrder, ActionInitOrder,
	ActionConfirmOrder, ActionShowYapePayment, ActionShowPlinPayment, ActionRemoveProduct,
	ActionUpdateProductQuantity, ActionViewOrderHistory, ActionModifyProfile,
}

// ParseAction returns ActionNone for anything outside the known set
func ParseAction(s string) Action {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range allActions {
		if string(a) == s {
			return a
		}
	}
	return ActionNone
}

// Params is an open key-value map decoded from model output or built by the fallback classifier
type Params map[string]any

// String returns the value under key as a trimmed string, or ""
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSuffix(strings.TrimRight(formatFloat(v), "0"), ".")
	case int:
		return formatInt(int64(v))
	case int64:
		return formatInt(v)
	}
	return ""
}

// Float returns a numeric value under key; ok is false when absent or not numeric
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		return parseFloat(v)
	}
	return 0, false
}

// Int returns the value under key truncated to an int64
func (p Params) Int(key string) (int64, bool) {
	f, ok := p.Float(key)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Bool returns the value under key when it is a boolean
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Map returns a nested object under key
func (p Params) Map(key string) Params {
	switch v := p[key].(type) {
	case map[string]any:
		return Params(v)
	case Params:
		return v
	}
	return nil
}

// Slice returns a nested list under key
func (p Params) Slice(key string) []any {
	v, _ := p[key].([]any)
	return v
}

// Intent is the structured classification of one inbound message
type Intent struct {
	Category      IntentCategory `json:"category"`
	Confidence    float64        `json:"confidence"`
	Parameters    Params         `json:"parameters"`
	RequiredQuery QueryName      `json:"required_query,omitempty"`
	QueryParams   Params         `json:"query_params"`
	Action        Action         `json:"action,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

// ClampConfidence bounds a raw confidence score to [0,1]
func ClampConfidence(c float64) float64 {
	if c != c || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ConversationMessage represents a message in conversation history
type ConversationMessage struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// PendingOrder is the order snapshot kept in the session while a customer builds an order
type PendingOrder struct {
	RemoteOrderID int64       `json:"pedido_id,omitempty"`
	Products      []OrderLine `json:"productos,omitempty"`
	Total         float64     `json:"total,omitempty"`
}

// SessionState is the per-customer conversational state supplied by the caller
type SessionState struct {
	State         string        `json:"state,omitempty"`
	Authenticated bool          `json:"_authenticated,omitempty"`
	ClientName    string        `json:"_client_name,omitempty"`
	PhoneNumber   string        `json:"phoneNumber,omitempty"`
	CurrentOrder  *PendingOrder `json:"current_order,omitempty"`
}

// Session states the pipeline branches on
const (
	StateIdle                 = "idle"
	StateInProgress           = "in_progress"
	StateAwaitingConfirmation = "awaiting_confirmation"
	StateAwaitingPayment      = "awaiting_payment"
)

// IsEmpty reports whether the caller provided no session facts at all
func (s SessionState) IsEmpty() bool {
	return s.State == "" && !s.Authenticated && s.ClientName == "" && s.PhoneNumber == "" && s.CurrentOrder == nil
}

// RequestContext is everything the caller knows about the conversation besides the text
type RequestContext struct {
	SessionState SessionState          `json:"session_state"`
	History      []ConversationMessage `json:"conversation_history"`
	IsFromVoice  bool                  `json:"is_from_voice"`
}

// Product is a catalog row as exposed by storage and the remote API
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"nombre"`
	Code        string  `json:"codigo_interno,omitempty"`
	Description string  `json:"descripcion,omitempty"`
	Price       float64 `json:"precio_venta"`
	Stock       int     `json:"stock_actual"`
	Active      bool    `json:"activo"`
	CategoryID  int64   `json:"categoria_id,omitempty"`
}

// InStock reports whether at least one unit is available
func (p Product) InStock() bool {
	return p.Stock > 0
}

// Customer is a registered client
type Customer struct {
	ID      int64  `json:"id"`
	Name    string `json:"nombre"`
	Phone   string `json:"telefono"`
	Email   string `json:"email,omitempty"`
	Address string `json:"direccion,omitempty"`
}

// OrderLine is one product line inside an order
type OrderLine struct {
	ProductID int64   `json:"producto_id,omitempty"`
	Name      string  `json:"nombre"`
	Quantity  int     `json:"cantidad"`
	UnitPrice float64 `json:"precio_unitario"`
	Subtotal  float64 `json:"subtotal"`
}

// Order is an order in progress or placed
type Order struct {
	ID     int64       `json:"id"`
	Number string      `json:"numero_pedido,omitempty"`
	Status string      `json:"estado,omitempty"`
	Total  float64     `json:"total"`
	Lines  []OrderLine `json:"detalles"`
}

// CatalogFilters narrows a catalog listing
type CatalogFilters struct {
	ActiveOnly    bool     `json:"active"`
	CategoryID    int64    `json:"category_id,omitempty"`
	PriceMax      *float64 `json:"price_max,omitempty"`
	PriceMin      *float64 `json:"price_min,omitempty"`
	AvailableOnly bool     `json:"available_only,omitempty"`
	Limit         int      `json:"limit"`
}

// StockRequest is one requested line for a stock check
type StockRequest struct {
	Name     string `json:"nombre"`
	Quantity int    `json:"cantidad"`
}

// StockLine is a stock-check verdict for one requested line
type StockLine struct {
	Name      string  `json:"nombre"`
	Requested int     `json:"cantidad_solicitada"`
	Stock     int     `json:"stock_actual"`
	ProductID int64   `json:"producto_id,omitempty"`
	Price     float64 `json:"precio_venta,omitempty"`
	Reason    string  `json:"motivo,omitempty"`
}

// StockReasonNotFound tags lines whose product could not be resolved
const StockReasonNotFound = "producto_no_encontrado"

// StockReport buckets stock-check lines
type StockReport struct {
	Available   []StockLine `json:"disponibles"`
	Unavailable []StockLine `json:"sinStock"`
}

// QueryResult is the outcome of a query execution
type QueryResult struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// Button is a suggested quick reply
type Button struct {
	Label string `json:"title"`
	ID    string `json:"id"`
}

// ResponsePayload is what the response generator hands back. Text is nil when the caller renders its own message.
type ResponsePayload struct {
	Text    *string  `json:"text"`
	Data    any      `json:"data"`
	Buttons []Button `json:"buttons"`
}

// ProcessResult is the single structured result of a pipeline run
type ProcessResult struct {
	Intent     string        `json:"intent"`
	Confidence float64       `json:"confidence"`
	Action     Action        `json:"action,omitempty"`
	Message    *string       `json:"message"`
	Data       any           `json:"data"`
	Buttons    []Button      `json:"buttons"`
	RequestID  string        `json:"request_id,omitempty"`
	Duration   time.Duration `json:"-"`
}

// StringPtr is a small helper for optional text fields
func StringPtr(s string) *string {
	return &s
}
