package nodes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"kardex_assistant/internal/llm"
	"kardex_assistant/internal/services"
	"kardex_assistant/internal/storage"
	"kardex_assistant/pkg"
)

var errUnavailable = errors.New("model unavailable")

// fakeStorage wraps the demo catalog with a connection flag, an injectable error and call counters
type fakeStorage struct {
	*services.MemoryCatalog
	connected bool
	err       error
	calls     atomic.Int32
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{MemoryCatalog: services.NewDemoCatalog(), connected: true}
}

func (f *fakeStorage) Connected() bool { return f.connected }

func (f *fakeStorage) ProductsByFilter(ctx context.Context, filters pkg.CatalogFilters) ([]pkg.Product, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.MemoryCatalog.ProductsByFilter(ctx, filters)
}

func (f *fakeStorage) ProductSearch(ctx context.Context, term string, limit int) ([]pkg.Product, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.MemoryCatalog.ProductSearch(ctx, term, limit)
}

func (f *fakeStorage) CustomerByPhone(ctx context.Context, phone string) (*pkg.Customer, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.MemoryCatalog.CustomerByPhone(ctx, phone)
}

// fakeAPI serves fixed records
type fakeAPI struct {
	products  []pkg.Product
	customers []pkg.Customer
	orders    map[int64]pkg.Order
	err       error
	calls     atomic.Int32
}

func (f *fakeAPI) Products(ctx context.Context, _ pkg.CatalogFilters) ([]pkg.Product, error) {
	f.calls.Add(1)
	return f.products, f.err
}

func (f *fakeAPI) SearchProducts(ctx context.Context, term string) ([]pkg.Product, error) {
	f.calls.Add(1)
	return f.products, f.err
}

func (f *fakeAPI) CustomerByPhone(ctx context.Context, phone string) (*pkg.Customer, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.customers {
		if storage.PhoneMatches(f.customers[i].Phone, phone) {
			return &f.customers[i], nil
		}
	}
	return nil, services.ErrNotFound
}

func (f *fakeAPI) OrderByID(ctx context.Context, id int64) (*pkg.Order, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if o, ok := f.orders[id]; ok {
		return &o, nil
	}
	return nil, services.ErrNotFound
}

// fakeSessions maps a phone to its persisted state
type fakeSessions map[string]pkg.SessionState

func (f fakeSessions) State(ctx context.Context, key string) (*pkg.SessionState, error) {
	s, ok := f[key]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return &s, nil
}

// fakeCompletion records prompts and answers with fixed values
type fakeCompletion struct {
	mu      sync.Mutex
	text    string
	json    map[string]any
	err     error
	prompts []string
	systems []string
	tasks   []llm.Task
}

func (f *fakeCompletion) record(prompt, system string, task llm.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, system)
	f.tasks = append(f.tasks, task)
}

func (f *fakeCompletion) Complete(ctx context.Context, prompt, system string, task llm.Task, _ llm.Overrides) (string, error) {
	f.record(prompt, system, task)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeCompletion) CompleteJSON(ctx context.Context, prompt, system string, task llm.Task, _ llm.Overrides) (map[string]any, error) {
	f.record(prompt, system, task)
	if f.err != nil {
		return nil, f.err
	}
	return f.json, nil
}

func (f *fakeCompletion) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeCompletion) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}
