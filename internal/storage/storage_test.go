package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kardex_assistant/pkg"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "kardex_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProducts(t *testing.T, s *SQLite) {
	t.Helper()
	ctx := context.Background()
	products := []pkg.Product{
		{ID: 1, Name: "Mouse inalámbrico", Code: "MOU-01", Price: 35, Stock: 3, Active: true, CategoryID: 2},
		{ID: 2, Name: "Teclado mecánico", Code: "TEC-01", Description: "incluye mouse pad", Price: 120, Stock: 0, Active: true, CategoryID: 2},
		{ID: 3, Name: "Laptop 14", Code: "LAP-14", Price: 2500, Stock: 5, Active: true, CategoryID: 1},
		{ID: 4, Name: "Monitor viejo", Code: "MON-00", Price: 300, Stock: 1, Active: false, CategoryID: 1},
	}
	for _, p := range products {
		require.NoError(t, s.UpsertProduct(ctx, p))
	}
}

func TestSQLiteProductsByFilter(t *testing.T) {
	s := newTestSQLite(t)
	seedProducts(t, s)
	ctx := context.Background()

	all, err := s.ProductsByFilter(ctx, pkg.CatalogFilters{ActiveOnly: true, Limit: 20})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Laptop 14", all[0].Name, "ordered by name")

	peripherals, err := s.ProductsByFilter(ctx, pkg.CatalogFilters{ActiveOnly: true, CategoryID: 2})
	require.NoError(t, err)
	assert.Len(t, peripherals, 2)

	limited, err := s.ProductsByFilter(ctx, pkg.CatalogFilters{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteProductSearchRanksNameMatchesFirst(t *testing.T) {
	s := newTestSQLite(t)
	seedProducts(t, s)

	found, err := s.ProductSearch(context.Background(), "mouse", 5)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, int64(1), found[0].ID)
	assert.Equal(t, int64(2), found[1].ID)
}

func TestSQLiteProductByID(t *testing.T) {
	s := newTestSQLite(t)
	seedProducts(t, s)
	ctx := context.Background()

	p, err := s.ProductByID(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 5, p.Stock)
	assert.True(t, p.Active)

	p, err = s.ProductByID(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, p, "inactive products are hidden")

	p, err = s.ProductByID(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSQLiteCustomerByPhoneVariants(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertCustomer(ctx, pkg.Customer{ID: 1, Name: "Ana", Phone: "+51 987-654-321"}))
	require.NoError(t, s.UpsertCustomer(ctx, pkg.Customer{ID: 2, Name: "Beto", Phone: "912345678"}))

	c, err := s.CustomerByPhone(ctx, "987654321")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Ana", c.Name)

	c, err = s.CustomerByPhone(ctx, "51912345678")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Beto", c.Name)

	c, err = s.CustomerByPhone(ctx, "000")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSQLiteOrderRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	order := pkg.Order{
		ID: 10, Number: "P-0010", Status: "pendiente", Total: 70,
		Lines: []pkg.OrderLine{{ProductID: 1, Name: "Mouse", Quantity: 2, UnitPrice: 35, Subtotal: 70}},
	}
	require.NoError(t, s.SaveOrder(ctx, order))

	got, err := s.OrderByID(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, order, *got)

	missing, err := s.OrderByID(ctx, 11)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPhoneVariants(t *testing.T) {
	assert.Equal(t, []string{"987654321", "51987654321"}, PhoneVariants("987 654 321"))
	assert.Equal(t, []string{"51987654321", "987654321"}, PhoneVariants("+51 987654321"))
	assert.Nil(t, PhoneVariants("abc"))

	assert.True(t, PhoneMatches("+51 987-654-321", "987654321"))
	assert.False(t, PhoneMatches("912345678", "987654321"))
}

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour, 3)

	_, err := store.Get(ctx, "51987654321")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	history, err := store.History(ctx, "51987654321", 5)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, store.Save(ctx, "51987654321", "hola", false))
	require.NoError(t, store.Save(ctx, "51987654321", "¡Hola! ¿En qué te ayudo?", true))
	require.NoError(t, store.Save(ctx, "51987654321", "catalogo", false))
	require.NoError(t, store.Save(ctx, "51987654321", "Aquí está el catálogo", true))

	history, err = store.History(ctx, "51987654321", 10)
	require.NoError(t, err)
	require.Len(t, history, 3, "bounded by maxMessages")
	assert.Equal(t, "assistant", history[0].Role)
	assert.Equal(t, "catalogo", history[1].Content)

	history, err = store.History(ctx, "51987654321", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Aquí está el catálogo", history[0].Content)

	require.NoError(t, store.SetState(ctx, "51987654321", pkg.SessionState{State: pkg.StateInProgress, Authenticated: true}))
	state, err := store.State(ctx, "51987654321")
	require.NoError(t, err)
	assert.Equal(t, pkg.StateInProgress, state.State)

	s, err := store.Get(ctx, "51987654321")
	require.NoError(t, err)
	assert.NoError(t, ValidateSession(s))

	require.NoError(t, store.Delete(ctx, "51987654321"))
	_, err = store.Get(ctx, "51987654321")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemorySessionExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Minute, 0)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, "k", "hola", false))
	now = now.Add(2 * time.Minute)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemorySessionStoreDropsMalformedSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour, 0)
	store.sessions["k"] = &Session{
		Key:       "k",
		Messages:  []pkg.ConversationMessage{{Role: "system", Content: "hola"}},
		UpdatedAt: time.Now().Unix(),
	}

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, store.Save(ctx, "k", "catalogo", false))
	history, err := store.History(ctx, "k", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "catalogo", history[0].Content)
}

func TestMemorySessionStoreSkipsBlankMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour, 0)

	require.NoError(t, store.Save(ctx, "k", "hola", false))
	require.NoError(t, store.Save(ctx, "k", "   ", true))

	s, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, s.Messages, 1)
	assert.NoError(t, ValidateSession(s))
}

func TestDecodeSession(t *testing.T) {
	s, err := decodeSession("k", []byte(`{"key":"k","messages":[{"role":"user","content":"hola"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "hola", s.Messages[0].Content)

	_, err = decodeSession("k", []byte(`{"key":"","messages":[]}`))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = decodeSession("k", []byte(`{"key":"k","messages":[{"role":"bot","content":"x"}]}`))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = decodeSession("k", []byte(`not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestPostgresTracksReachability(t *testing.T) {
	ctx := context.Background()
	pg, err := NewPostgres(ctx, "postgres://kardex@127.0.0.1:1/kardex?connect_timeout=1")
	require.NoError(t, err)
	defer pg.Close()
	assert.False(t, pg.Connected())

	// a query failing below the protocol level flips the flag back off
	pg.connected.Store(true)
	_, err = pg.ProductsByFilter(ctx, pkg.CatalogFilters{Limit: 1})
	require.Error(t, err)
	assert.False(t, pg.Connected())

	_, err = pg.KeepAlive("not a schedule")
	assert.Error(t, err)

	stop, err := pg.KeepAlive("@every 1h")
	require.NoError(t, err)
	stop()
}
