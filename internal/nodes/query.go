package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/singleflight"

	"kardex_assistant/internal/cache"
	"kardex_assistant/internal/logger"
	"kardex_assistant/internal/metrics"
	"kardex_assistant/internal/storage"
	"kardex_assistant/pkg"
)

const (
	defaultCatalogLimit = 20
	defaultSearchLimit  = 5
)

// ErrUnknownQuery is reported when an intent names a query outside the known set
var ErrUnknownQuery = errors.New("unknown query")

// Storage is the structured store consulted first. Lookups return (nil, nil) when nothing matches.
type Storage interface {
	Connected() bool
	ProductsByFilter(ctx context.Context, f pkg.CatalogFilters) ([]pkg.Product, error)
	ProductSearch(ctx context.Context, term string, limit int) ([]pkg.Product, error)
	ProductByID(ctx context.Context, id int64) (*pkg.Product, error)
	CustomerByPhone(ctx context.Context, phone string) (*pkg.Customer, error)
	OrderByID(ctx context.Context, id int64) (*pkg.Order, error)
}

// RemoteAPI is the backend used when storage is down or has nothing
type RemoteAPI interface {
	Products(ctx context.Context, f pkg.CatalogFilters) ([]pkg.Product, error)
	SearchProducts(ctx context.Context, term string) ([]pkg.Product, error)
	CustomerByPhone(ctx context.Context, phone string) (*pkg.Customer, error)
	OrderByID(ctx context.Context, id int64) (*pkg.Order, error)
}

// SessionSource reads persisted session state by customer phone
type SessionSource interface {
	State(ctx context.Context, key string) (*pkg.SessionState, error)
}

// QueryExecutor runs the data lookup an intent declares. Every source failure advances
// to the next source; the executor itself never fails.
type QueryExecutor struct {
	storage  Storage
	api      RemoteAPI
	sessions SessionSource
	cache    *cache.Service
	group    singleflight.Group
	metrics  *metrics.Metrics
}

// NewQueryExecutor creates an executor. Any of storage, api and sessions may be nil.
func NewQueryExecutor(st Storage, api RemoteAPI, sessions SessionSource, c *cache.Service, m *metrics.Metrics) *QueryExecutor {
	if c == nil {
		c = cache.New(cache.DefaultConfig())
	}
	return &QueryExecutor{
		storage:  st,
		api:      api,
		sessions: sessions,
		cache:    c,
		metrics:  m,
	}
}

// Execute dispatches on intent.RequiredQuery
func (e *QueryExecutor) Execute(ctx context.Context, intent pkg.Intent, session pkg.SessionState) (result pkg.QueryResult) {
	if intent.RequiredQuery == pkg.QueryNone {
		return pkg.QueryResult{}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("query", string(intent.RequiredQuery)).Msg("Query panicked")
			result = pkg.QueryResult{Error: fmt.Sprintf("query %s failed", intent.RequiredQuery)}
		}
		e.metrics.ObserveStage("query", time.Since(start))
	}()

	qp := intent.QueryParams
	if qp == nil {
		qp = pkg.Params{}
	}

	logger.Debug().Str("query", string(intent.RequiredQuery)).Interface("params", qp).Msg("Executing query")

	switch intent.RequiredQuery {
	case pkg.QueryGetCatalog:
		return pkg.QueryResult{Data: e.catalog(ctx, qp)}
	case pkg.QueryProductSearch:
		term := firstString(qp, "term", "termino", "query")
		if term == "" {
			term = firstString(intent.Parameters, "termino", "producto", "product")
		}
		return pkg.QueryResult{Data: e.Search(ctx, term, limitParam(qp, defaultSearchLimit))}
	case pkg.QueryGetOne:
		id, _ := firstInt(qp, "id", "productoId", "producto_id")
		name := firstString(qp, "nombre", "name", "producto", "product")
		if p := e.GetOne(ctx, id, name); p != nil {
			return pkg.QueryResult{Data: p}
		}
		return pkg.QueryResult{}
	case pkg.QueryCheckStock:
		items := stockRequests(qp)
		if len(items) == 0 {
			items = stockRequests(intent.Parameters)
		}
		return pkg.QueryResult{Data: e.CheckStock(ctx, items)}
	case pkg.QueryGetCustomer:
		phone := firstString(qp, "phone", "phoneNumber", "telefono")
		if phone == "" {
			phone = session.PhoneNumber
		}
		if c := e.customer(ctx, phone); c != nil {
			return pkg.QueryResult{Data: c}
		}
		return pkg.QueryResult{}
	case pkg.QueryGetOrder:
		return pkg.QueryResult{Data: e.order(ctx, qp, session)}
	default:
		logger.Warn().Str("query", string(intent.RequiredQuery)).Msg("Unknown query")
		return pkg.QueryResult{Error: ErrUnknownQuery.Error()}
	}
}

func (e *QueryExecutor) storageReady() bool {
	return e.storage != nil && e.storage.Connected()
}

// catalog lists products: storage, then the remote API, then client-side price and stock filters
func (e *QueryExecutor) catalog(ctx context.Context, qp pkg.Params) []pkg.Product {
	raw := qp.Map("filters")
	if raw == nil {
		raw = qp.Map("filtros")
	}
	if raw == nil {
		raw = qp
	}
	limit := limitParam(qp, 0)
	if limit == 0 {
		limit = limitParam(raw, defaultCatalogLimit)
	}
	f := catalogFilters(raw, limit)

	encoded, err := sonic.MarshalString(f)
	if err != nil {
		encoded = fmt.Sprintf("%+v", f)
	}
	key := fmt.Sprintf("getProductos:%s:%d", encoded, limit)

	if cached, ok := e.cache.GetQuery(key); ok {
		if products, ok := cached.([]pkg.Product); ok {
			e.metrics.RecordQuerySource(string(pkg.QueryGetCatalog), "cache")
			return products
		}
	}

	v, _, _ := e.group.Do(key, func() (any, error) {
		products, source := e.fetchCatalog(ctx, f)
		products = applyCatalogFilters(products, f)
		e.metrics.RecordQuerySource(string(pkg.QueryGetCatalog), source)
		if len(products) > 0 {
			e.cache.SetQuery(key, products)
		}
		return products, nil
	})
	products, _ := v.([]pkg.Product)
	if products == nil {
		products = []pkg.Product{}
	}
	return products
}

func (e *QueryExecutor) fetchCatalog(ctx context.Context, f pkg.CatalogFilters) ([]pkg.Product, string) {
	if e.storageReady() {
		products, err := e.storage.ProductsByFilter(ctx, f)
		if err != nil {
			logger.Warn().Err(err).Msg("Catalog lookup in storage failed")
		} else if len(products) > 0 {
			return products, "storage"
		}
	}
	if e.api != nil {
		products, err := e.api.Products(ctx, f)
		if err != nil {
			logger.Warn().Err(err).Msg("Catalog lookup in remote API failed")
		} else if len(products) > 0 {
			return products, "api"
		}
	}
	return nil, "none"
}

// catalogFilters reads English or Spanish filter keys. Zero prices mean no bound.
func catalogFilters(raw pkg.Params, limit int) pkg.CatalogFilters {
	f := pkg.CatalogFilters{ActiveOnly: true, Limit: limit}
	if raw == nil {
		return f
	}
	for _, k := range []string{"active", "activo"} {
		if v, ok := raw[k].(bool); ok {
			f.ActiveOnly = v
		}
	}
	if id, ok := firstInt(raw, "category_id", "categoria_id", "categoryId"); ok && id > 0 {
		f.CategoryID = id
	}
	if v, ok := firstFloat(raw, "priceMax", "precioMaximo", "price_max"); ok && v > 0 {
		f.PriceMax = &v
	}
	if v, ok := firstFloat(raw, "priceMin", "precioMinimo", "price_min"); ok && v > 0 {
		f.PriceMin = &v
	}
	f.AvailableOnly = raw.Bool("availableOnly") || raw.Bool("soloDisponibles") || raw.Bool("available_only")
	return f
}

// applyCatalogFilters applies price ceiling, price floor and availability, in that order
func applyCatalogFilters(products []pkg.Product, f pkg.CatalogFilters) []pkg.Product {
	out := make([]pkg.Product, 0, len(products))
	for _, p := range products {
		if f.PriceMax != nil && p.Price > *f.PriceMax {
			continue
		}
		if f.PriceMin != nil && p.Price < *f.PriceMin {
			continue
		}
		if f.AvailableOnly && !p.InStock() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Search finds products by free text. A blank term returns an empty list without any lookup.
func (e *QueryExecutor) Search(ctx context.Context, term string, limit int) []pkg.Product {
	term = strings.TrimSpace(term)
	if term == "" {
		return []pkg.Product{}
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	key := fmt.Sprintf("search:%s:%d", strings.ToLower(term), limit)
	if cached, ok := e.cache.GetQuery(key); ok {
		if products, ok := cached.([]pkg.Product); ok {
			e.metrics.RecordQuerySource(string(pkg.QueryProductSearch), "cache")
			return products
		}
	}

	v, _, _ := e.group.Do(key, func() (any, error) {
		products, source := e.fetchSearch(ctx, term, limit)
		e.metrics.RecordQuerySource(string(pkg.QueryProductSearch), source)
		if len(products) > 0 {
			e.cache.SetQuery(key, products)
		}
		return products, nil
	})
	products, _ := v.([]pkg.Product)
	if products == nil {
		products = []pkg.Product{}
	}
	return products
}

func (e *QueryExecutor) fetchSearch(ctx context.Context, term string, limit int) ([]pkg.Product, string) {
	if e.storageReady() {
		products, err := e.storage.ProductSearch(ctx, term, limit)
		if err != nil {
			logger.Warn().Err(err).Str("term", term).Msg("Product search in storage failed")
		} else if len(products) > 0 {
			return products, "storage"
		}
	}
	if e.api != nil {
		products, err := e.api.SearchProducts(ctx, term)
		if err != nil {
			logger.Warn().Err(err).Str("term", term).Msg("Product search in remote API failed")
		} else if len(products) > 0 {
			if len(products) > limit {
				products = products[:limit]
			}
			return products, "api"
		}
	}
	return nil, "none"
}

// GetOne resolves a product by id through storage, else by name through Search. Returns nil when unresolved.
func (e *QueryExecutor) GetOne(ctx context.Context, id int64, name string) *pkg.Product {
	if id > 0 {
		if p := e.productByID(ctx, id); p != nil {
			return p
		}
	}
	if strings.TrimSpace(name) != "" {
		if found := e.Search(ctx, name, 1); len(found) > 0 {
			p := found[0]
			return &p
		}
	}
	return nil
}

func (e *QueryExecutor) productByID(ctx context.Context, id int64) *pkg.Product {
	key := "getOne:" + cache.ProductTag(id)
	if cached, ok := e.cache.GetQuery(key); ok {
		if p, ok := cached.(pkg.Product); ok {
			return &p
		}
	}
	if !e.storageReady() {
		return nil
	}
	p, err := e.storage.ProductByID(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Int64("id", id).Msg("Product lookup in storage failed")
		return nil
	}
	if p == nil {
		return nil
	}
	e.cache.SetQuery(key, *p)
	return p
}

// CheckStock resolves each requested line and buckets it as available, insufficient or not found.
// Insufficient and not-found lines both land in Unavailable.
func (e *QueryExecutor) CheckStock(ctx context.Context, items []pkg.StockRequest) pkg.StockReport {
	report := pkg.StockReport{Available: []pkg.StockLine{}, Unavailable: []pkg.StockLine{}}
	for _, item := range items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		line := pkg.StockLine{Name: item.Name, Requested: qty}

		p := e.GetOne(ctx, 0, item.Name)
		switch {
		case p == nil:
			line.Reason = pkg.StockReasonNotFound
			report.Unavailable = append(report.Unavailable, line)
		case p.Stock >= qty:
			line.Stock = p.Stock
			line.ProductID = p.ID
			line.Price = p.Price
			report.Available = append(report.Available, line)
		default:
			line.Stock = p.Stock
			line.ProductID = p.ID
			line.Price = p.Price
			report.Unavailable = append(report.Unavailable, line)
		}
	}
	return report
}

func (e *QueryExecutor) customer(ctx context.Context, phone string) *pkg.Customer {
	if strings.TrimSpace(phone) == "" {
		return nil
	}
	key := "customer:" + storage.NormalizePhone(phone)
	if cached, ok := e.cache.GetQuery(key); ok {
		if c, ok := cached.(pkg.Customer); ok {
			e.metrics.RecordQuerySource(string(pkg.QueryGetCustomer), "cache")
			return &c
		}
	}

	var found *pkg.Customer
	source := "none"
	if e.storageReady() {
		c, err := e.storage.CustomerByPhone(ctx, phone)
		if err != nil {
			logger.Warn().Err(err).Msg("Customer lookup in storage failed")
		} else if c != nil {
			found, source = c, "storage"
		}
	}
	if found == nil && e.api != nil {
		c, err := e.api.CustomerByPhone(ctx, phone)
		if err != nil {
			logger.Warn().Err(err).Msg("Customer lookup in remote API failed")
		} else if c != nil {
			found, source = c, "api"
		}
	}
	e.metrics.RecordQuerySource(string(pkg.QueryGetCustomer), source)
	if found != nil {
		e.cache.SetQuery(key, *found)
	}
	return found
}

// order returns a stored order for an explicit id, otherwise the session's pending order.
// A pending order that references a remote order is resolved through the remote API.
func (e *QueryExecutor) order(ctx context.Context, qp pkg.Params, session pkg.SessionState) any {
	if id, ok := firstInt(qp, "pedidoId", "orderId", "pedido_id", "id"); ok && id > 0 {
		if o := e.orderByID(ctx, id); o != nil {
			return o
		}
		return nil
	}

	pending := session.CurrentOrder
	if pending == nil {
		phone := firstString(qp, "phoneNumber", "phone", "telefono")
		if phone == "" {
			phone = session.PhoneNumber
		}
		pending = e.storedPendingOrder(ctx, phone)
	}
	if pending == nil {
		e.metrics.RecordQuerySource(string(pkg.QueryGetOrder), "none")
		return nil
	}

	if pending.RemoteOrderID > 0 && e.api != nil {
		o, err := e.api.OrderByID(ctx, pending.RemoteOrderID)
		if err == nil && o != nil {
			e.metrics.RecordQuerySource(string(pkg.QueryGetOrder), "api")
			return o
		}
		logger.Warn().Err(err).Int64("order_id", pending.RemoteOrderID).Msg("Pending order lookup in remote API failed")
	}
	e.metrics.RecordQuerySource(string(pkg.QueryGetOrder), "session")
	return pending
}

func (e *QueryExecutor) storedPendingOrder(ctx context.Context, phone string) *pkg.PendingOrder {
	if phone == "" || e.sessions == nil {
		return nil
	}
	state, err := e.sessions.State(ctx, phone)
	if err != nil {
		if !errors.Is(err, storage.ErrSessionNotFound) {
			logger.Warn().Err(err).Msg("Session state lookup failed")
		}
		return nil
	}
	if state == nil {
		return nil
	}
	return state.CurrentOrder
}

func (e *QueryExecutor) orderByID(ctx context.Context, id int64) *pkg.Order {
	key := "getOrder:" + cache.OrderTag(id)
	if cached, ok := e.cache.GetQuery(key); ok {
		if o, ok := cached.(pkg.Order); ok {
			e.metrics.RecordQuerySource(string(pkg.QueryGetOrder), "cache")
			return &o
		}
	}

	var found *pkg.Order
	source := "none"
	if e.storageReady() {
		o, err := e.storage.OrderByID(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Int64("order_id", id).Msg("Order lookup in storage failed")
		} else if o != nil {
			found, source = o, "storage"
		}
	}
	if found == nil && e.api != nil {
		o, err := e.api.OrderByID(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Int64("order_id", id).Msg("Order lookup in remote API failed")
		} else if o != nil {
			found, source = o, "api"
		}
	}
	e.metrics.RecordQuerySource(string(pkg.QueryGetOrder), source)
	if found != nil {
		e.cache.SetQuery(key, *found)
	}
	return found
}

// stockRequests reads [{nombre|name, cantidad|quantity}] under productos or products
func stockRequests(p pkg.Params) []pkg.StockRequest {
	if p == nil {
		return nil
	}
	list := p.Slice("productos")
	if len(list) == 0 {
		list = p.Slice("products")
	}

	var out []pkg.StockRequest
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		line := pkg.Params(m)
		name := firstString(line, "nombre", "name", "producto", "product")
		if name == "" {
			continue
		}
		qty, ok := firstInt(line, "cantidad", "quantity")
		if !ok || qty <= 0 {
			qty = 1
		}
		out = append(out, pkg.StockRequest{Name: name, Quantity: int(qty)})
	}
	return out
}

func limitParam(p pkg.Params, def int) int {
	if p == nil {
		return def
	}
	if n, ok := p.Int("limit"); ok && n > 0 {
		return int(n)
	}
	return def
}

func firstInt(p pkg.Params, keys ...string) (int64, bool) {
	for _, k := range keys {
		if n, ok := p.Int(k); ok {
			return n, true
		}
	}
	return 0, false
}

func firstFloat(p pkg.Params, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := p.Float(k); ok {
			return f, true
		}
	}
	return 0, false
}
