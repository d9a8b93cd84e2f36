package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"kardex_assistant/internal/logger"
	"kardex_assistant/pkg"
)

// Postgres reads the Kardex catalog, customers and orders from PostgreSQL.
// Connected reflects the latest ping or query outcome, so callers can skip a dead database
// and go straight to the API. KeepAlive re-pings on a schedule to notice recovery.
type Postgres struct {
	db        *pgxpool.Pool
	connected atomic.Bool
	pinged    atomic.Bool
}

// NewPostgres opens a pool. An unreachable database is not an error; the store reports disconnected.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	p := &Postgres{db: pool}
	p.Ping(ctx)
	return p, nil
}

// Ping refreshes the connected flag, logging only on the first check and on transitions
func (p *Postgres) Ping(ctx context.Context) bool {
	first := !p.pinged.Swap(true)
	if err := p.db.Ping(ctx); err != nil {
		if p.connected.Swap(false) || first {
			logger.Warn().Err(err).Msg("Database not reachable, remote API will be used")
		}
		return false
	}
	if !p.connected.Swap(true) && !first {
		logger.Info().Msg("Database reachable again")
	}
	return true
}

// KeepAlive pings on a cron schedule until the returned stop func is called
func (p *Postgres) KeepAlive(spec string) (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Ping(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid database health check schedule %q: %w", spec, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// fail marks the store disconnected when err is not a server-side answer, then returns err
func (p *Postgres) fail(ctx context.Context, err error) error {
	var pgErr *pgconn.PgError
	if err == nil || errors.As(err, &pgErr) || ctx.Err() != nil {
		return err
	}
	if p.connected.Swap(false) {
		logger.Warn().Err(err).Msg("Database query failed, marking storage disconnected")
	}
	return err
}

// Close closes the pool
func (p *Postgres) Close() {
	p.connected.Store(false)
	p.db.Close()
}

// Connected reports whether the last ping succeeded
func (p *Postgres) Connected() bool {
	return p.connected.Load()
}

// ProductsByFilter lists products ordered by name
func (p *Postgres) ProductsByFilter(ctx context.Context, f pkg.CatalogFilters) ([]pkg.Product, error) {
	query := `SELECT ` + productColumns + ` FROM productos WHERE true`
	var args []any
	if f.ActiveOnly {
		query += ` AND activo`
	}
	if f.CategoryID > 0 {
		args = append(args, f.CategoryID)
		query += fmt.Sprintf(` AND categoria_id = $%d`, len(args))
	}
	query += ` ORDER BY nombre ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return p.queryProducts(ctx, query, args...)
}

// ProductSearch matches term against name, code and description, name matches first
func (p *Postgres) ProductSearch(ctx context.Context, term string, limit int) ([]pkg.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	return p.queryProducts(ctx, `
		SELECT `+productColumns+` FROM productos
		WHERE activo
		  AND (nombre ILIKE $1 OR codigo_interno ILIKE $1 OR descripcion ILIKE $1)
		ORDER BY
			CASE
				WHEN nombre ILIKE $1 THEN 1
				WHEN codigo_interno ILIKE $1 THEN 2
				ELSE 3
			END,
			nombre ASC
		LIMIT $2`, "%"+strings.TrimSpace(term)+"%", limit)
}

// ProductByID returns nil when the product does not exist or is inactive
func (p *Postgres) ProductByID(ctx context.Context, id int64) (*pkg.Product, error) {
	rows, err := p.queryProducts(ctx, `SELECT `+productColumns+` FROM productos WHERE id = $1 AND activo`, id)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (p *Postgres) queryProducts(ctx context.Context, query string, args ...any) ([]pkg.Product, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", p.fail(ctx, err))
	}
	defer rows.Close()

	var out []pkg.Product
	for rows.Next() {
		var prod pkg.Product
		if err := rows.Scan(&prod.ID, &prod.Name, &prod.Code, &prod.Description, &prod.Price, &prod.Stock, &prod.Active, &prod.CategoryID); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, prod)
	}
	return out, rows.Err()
}

// CustomerByPhone tries every phone variant, preferring an exact normalized match
func (p *Postgres) CustomerByPhone(ctx context.Context, phone string) (*pkg.Customer, error) {
	variants := PhoneVariants(phone)
	if len(variants) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(variants))
	for i, v := range variants {
		patterns[i] = "%" + v
	}

	rows, err := p.db.Query(ctx, `
		SELECT id, nombre, telefono, email, direccion
		FROM clientes
		WHERE regexp_replace(telefono, '[^0-9]', '', 'g') LIKE ANY($1)
		ORDER BY nombre ASC`, patterns)
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", p.fail(ctx, err))
	}
	defer rows.Close()

	var candidates []pkg.Customer
	for rows.Next() {
		var c pkg.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bestPhoneMatch(candidates, variants[0]), nil
}

// OrderByID loads an order with its lines
func (p *Postgres) OrderByID(ctx context.Context, id int64) (*pkg.Order, error) {
	var o pkg.Order
	err := p.db.QueryRow(ctx, `SELECT id, numero_pedido, estado, total FROM pedidos WHERE id = $1`, id).
		Scan(&o.ID, &o.Number, &o.Status, &o.Total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", p.fail(ctx, err))
	}

	rows, err := p.db.Query(ctx, `
		SELECT producto_id, nombre, cantidad, precio_unitario, subtotal
		FROM pedido_detalles WHERE pedido_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", p.fail(ctx, err))
	}
	defer rows.Close()
	for rows.Next() {
		var l pkg.OrderLine
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	return &o, rows.Err()
}
