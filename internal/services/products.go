package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"kardex_assistant/internal/storage"
	"kardex_assistant/pkg"
)

// MemoryCatalog is an in-memory catalog used for development and tests.
// It satisfies the same lookups as the SQL stores.
type MemoryCatalog struct {
	mu        sync.RWMutex
	products  []pkg.Product
	customers []pkg.Customer
	orders    map[int64]pkg.Order
}

// NewMemoryCatalog creates a catalog holding the given records
func NewMemoryCatalog(products []pkg.Product, customers []pkg.Customer, orders []pkg.Order) *MemoryCatalog {
	c := &MemoryCatalog{
		products:  append([]pkg.Product(nil), products...),
		customers: append([]pkg.Customer(nil), customers...),
		orders:    make(map[int64]pkg.Order, len(orders)),
	}
	for _, o := range orders {
		c.orders[o.ID] = o
	}
	return c
}

// NewDemoCatalog creates catalog with simple mock data
func NewDemoCatalog() *MemoryCatalog {
	return NewMemoryCatalog(DemoProducts(), DemoCustomers(), nil)
}

// DemoProducts is the sample catalog shipped for local runs
func DemoProducts() []pkg.Product {
	return []pkg.Product{
		{ID: 1, Name: "Laptop Lenovo IdeaPad 3", Code: "LAP-001", Description: "Core i5, 8GB RAM, 512GB SSD", Price: 2199, Stock: 4, Active: true, CategoryID: 1},
		{ID: 2, Name: "Mouse Logitech M170", Code: "MOU-001", Description: "Mouse inalámbrico", Price: 39.9, Stock: 25, Active: true, CategoryID: 2},
		{ID: 3, Name: "Teclado Redragon Kumara", Code: "TEC-001", Description: "Teclado mecánico", Price: 149, Stock: 0, Active: true, CategoryID: 2},
		{ID: 4, Name: "Monitor LG 24\"", Code: "MON-001", Description: "Full HD IPS", Price: 549, Stock: 7, Active: true, CategoryID: 1},
		{ID: 5, Name: "Audífonos HyperX Cloud", Code: "AUD-001", Description: "Audífonos gamer", Price: 259, Stock: 2, Active: true, CategoryID: 2},
		{ID: 6, Name: "USB Kingston 64GB", Code: "USB-064", Description: "Memoria USB 3.2", Price: 29.9, Stock: 40, Active: true, CategoryID: 3},
	}
}

// DemoCustomers is the sample client list shipped for local runs
func DemoCustomers() []pkg.Customer {
	return []pkg.Customer{
		{ID: 1, Name: "María Quispe", Phone: "+51 987 654 321", Email: "maria@example.com", Address: "Av. Arequipa 123, Lima"},
	}
}

// Connected is always true
func (c *MemoryCatalog) Connected() bool { return true }

// ProductsByFilter lists products ordered by name
func (c *MemoryCatalog) ProductsByFilter(ctx context.Context, f pkg.CatalogFilters) ([]pkg.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []pkg.Product
	for _, p := range c.products {
		if f.ActiveOnly && !p.Active {
			continue
		}
		if f.CategoryID > 0 && p.CategoryID != f.CategoryID {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ProductSearch searches for active products by name, code or description, name matches first
func (c *MemoryCatalog) ProductSearch(ctx context.Context, term string, limit int) ([]pkg.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(term))
	if query == "" {
		return nil, nil
	}

	var byName, byOther []pkg.Product
	for _, p := range c.products {
		if !p.Active {
			continue
		}
		switch {
		case strings.Contains(strings.ToLower(p.Name), query):
			byName = append(byName, p)
		case strings.Contains(strings.ToLower(p.Code), query),
			strings.Contains(strings.ToLower(p.Description), query):
			byOther = append(byOther, p)
		}
	}
	results := append(byName, byOther...)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ProductByID returns nil for unknown or inactive products
func (c *MemoryCatalog) ProductByID(ctx context.Context, id int64) (*pkg.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if p.ID == id && p.Active {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

// CustomerByPhone matches with and without the country code
func (c *MemoryCatalog) CustomerByPhone(ctx context.Context, phone string) (*pkg.Customer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cust := range c.customers {
		if storage.PhoneMatches(cust.Phone, phone) {
			found := cust
			return &found, nil
		}
	}
	return nil, nil
}

// OrderByID returns nil for unknown orders
func (c *MemoryCatalog) OrderByID(ctx context.Context, id int64) (*pkg.Order, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.orders[id]; ok {
		return &o, nil
	}
	return nil, nil
}

// SetStock updates a product's stock, returning false for unknown ids
func (c *MemoryCatalog) SetStock(id int64, stock int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.products {
		if c.products[i].ID == id {
			c.products[i].Stock = stock
			return true
		}
	}
	return false
}
