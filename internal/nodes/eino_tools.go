package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"kardex_assistant/internal/logger"
	"kardex_assistant/pkg"
)

// SearchInput is the argument of the search_products tool
type SearchInput struct {
	Term  string `json:"term" jsonschema:"description=product name or keyword"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=maximum number of results"`
}

// StockInput is the argument of the check_stock tool
type StockInput struct {
	Products []pkg.StockRequest `json:"productos" jsonschema:"description=requested products with quantities"`
}

// OrderInput is the argument of the get_order tool
type OrderInput struct {
	OrderID int64  `json:"pedidoId,omitempty" jsonschema:"description=order id"`
	Phone   string `json:"phoneNumber,omitempty" jsonschema:"description=customer phone used to find a pending order"`
}

// SearchProductsTool exposes catalog search as an eino tool
func SearchProductsTool(exec *QueryExecutor) (tool.InvokableTool, error) {
	return utils.InferTool("search_products", "Search the KARDEX catalog by product name or keyword",
		func(ctx context.Context, in SearchInput) ([]pkg.Product, error) {
			logger.Debug().Str("term", in.Term).Msg("Tool search_products")
			return exec.Search(ctx, in.Term, in.Limit), nil
		})
}

// CheckStockTool exposes the stock check as an eino tool
func CheckStockTool(exec *QueryExecutor) (tool.InvokableTool, error) {
	return utils.InferTool("check_stock", "Check whether requested quantities of products are in stock",
		func(ctx context.Context, in StockInput) (pkg.StockReport, error) {
			logger.Debug().Int("lines", len(in.Products)).Msg("Tool check_stock")
			return exec.CheckStock(ctx, in.Products), nil
		})
}

// GetOrderTool exposes order lookup as an eino tool
func GetOrderTool(exec *QueryExecutor) (tool.InvokableTool, error) {
	return utils.InferTool("get_order", "Fetch an order by id or the pending order of a customer phone",
		func(ctx context.Context, in OrderInput) (any, error) {
			logger.Debug().Int64("order_id", in.OrderID).Msg("Tool get_order")
			params := pkg.Params{}
			if in.OrderID > 0 {
				params["pedidoId"] = in.OrderID
			}
			return exec.order(ctx, params, pkg.SessionState{PhoneNumber: in.Phone}), nil
		})
}

// CatalogTools returns every tool backed by exec, keyed by tool name
func CatalogTools(ctx context.Context, exec *QueryExecutor) (map[string]tool.InvokableTool, error) {
	builders := []func(*QueryExecutor) (tool.InvokableTool, error){
		SearchProductsTool,
		CheckStockTool,
		GetOrderTool,
	}

	tools := make(map[string]tool.InvokableTool, len(builders))
	for _, build := range builders {
		t, err := build(exec)
		if err != nil {
			return nil, fmt.Errorf("build tool: %w", err)
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		tools[info.Name] = t
	}
	return tools, nil
}
