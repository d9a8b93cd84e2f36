package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kardex_assistant/internal/cache"
	"kardex_assistant/pkg"
)

func TestCatalogTools(t *testing.T) {
	exec := NewQueryExecutor(newFakeStorage(), nil, nil, cache.New(cache.DefaultConfig()), nil)

	tools, err := CatalogTools(context.Background(), exec)
	require.NoError(t, err)
	assert.Len(t, tools, 3)
	for _, name := range []string{"search_products", "check_stock", "get_order"} {
		assert.Contains(t, tools, name)
	}
}

func TestSearchProductsTool(t *testing.T) {
	exec := NewQueryExecutor(newFakeStorage(), nil, nil, cache.New(cache.DefaultConfig()), nil)
	search, err := SearchProductsTool(exec)
	require.NoError(t, err)

	out, err := search.InvokableRun(context.Background(), `{"term":"mouse","limit":2}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Mouse Logitech M170")
}

func TestCheckStockTool(t *testing.T) {
	exec := NewQueryExecutor(newFakeStorage(), nil, nil, cache.New(cache.DefaultConfig()), nil)
	check, err := CheckStockTool(exec)
	require.NoError(t, err)

	out, err := check.InvokableRun(context.Background(), `{"productos":[{"nombre":"teclado","cantidad":1}]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "sinStock")
	assert.Contains(t, out, "teclado")
	assert.NotContains(t, out, "producto_no_encontrado")
}

func TestGetOrderToolPendingOrder(t *testing.T) {
	sessions := fakeSessions{"51987654321": {CurrentOrder: &pkg.PendingOrder{
		Products: []pkg.OrderLine{{Name: "Mouse", Quantity: 2, UnitPrice: 39.9, Subtotal: 79.8}},
		Total:    79.8,
	}}}
	exec := NewQueryExecutor(newFakeStorage(), nil, sessions, cache.New(cache.DefaultConfig()), nil)
	get, err := GetOrderTool(exec)
	require.NoError(t, err)

	out, err := get.InvokableRun(context.Background(), `{"phoneNumber":"51987654321"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "79.8")
}
