package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"kardex_assistant/pkg"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS productos (
	id INTEGER PRIMARY KEY,
	nombre TEXT NOT NULL,
	codigo_interno TEXT NOT NULL DEFAULT '',
	descripcion TEXT NOT NULL DEFAULT '',
	precio_venta REAL NOT NULL DEFAULT 0,
	stock_actual INTEGER NOT NULL DEFAULT 0,
	activo INTEGER NOT NULL DEFAULT 1,
	categoria_id INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS clientes (
	id INTEGER PRIMARY KEY,
	nombre TEXT NOT NULL,
	telefono TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	direccion TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS pedidos (
	id INTEGER PRIMARY KEY,
	numero_pedido TEXT NOT NULL DEFAULT '',
	estado TEXT NOT NULL DEFAULT 'pendiente',
	total REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS pedido_detalles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pedido_id INTEGER NOT NULL REFERENCES pedidos(id),
	producto_id INTEGER NOT NULL DEFAULT 0,
	nombre TEXT NOT NULL,
	cantidad INTEGER NOT NULL,
	precio_unitario REAL NOT NULL,
	subtotal REAL NOT NULL
);
`

const productColumns = `id, nombre, codigo_interno, descripcion, precio_venta, stock_actual, activo, categoria_id`

// SQLite is a file-backed catalog store, used for development and single-node installs
type SQLite struct {
	db        *sql.DB
	connected atomic.Bool
}

// NewSQLite opens (and migrates) the database at path
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}
	s := &SQLite{db: db}
	s.connected.Store(true)
	return s, nil
}

// Close closes the database
func (s *SQLite) Close() error {
	s.connected.Store(false)
	return s.db.Close()
}

// Connected reports whether the database is open
func (s *SQLite) Connected() bool {
	return s.connected.Load()
}

// ProductsByFilter lists products ordered by name
func (s *SQLite) ProductsByFilter(ctx context.Context, f pkg.CatalogFilters) ([]pkg.Product, error) {
	query := `SELECT ` + productColumns + ` FROM productos WHERE 1=1`
	var args []any
	if f.ActiveOnly {
		query += ` AND activo = 1`
	}
	if f.CategoryID > 0 {
		query += ` AND categoria_id = ?`
		args = append(args, f.CategoryID)
	}
	query += ` ORDER BY nombre ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryProducts(ctx, query, args...)
}

// ProductSearch matches term against name, code and description, name matches first
func (s *SQLite) ProductSearch(ctx context.Context, term string, limit int) ([]pkg.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + strings.TrimSpace(term) + "%"
	return s.queryProducts(ctx, `
		SELECT `+productColumns+` FROM productos
		WHERE activo = 1
		  AND (nombre LIKE ? OR codigo_interno LIKE ? OR descripcion LIKE ?)
		ORDER BY
			CASE
				WHEN nombre LIKE ? THEN 1
				WHEN codigo_interno LIKE ? THEN 2
				ELSE 3
			END,
			nombre ASC
		LIMIT ?`, like, like, like, like, like, limit)
}

// ProductByID returns nil when the product does not exist or is inactive
func (s *SQLite) ProductByID(ctx context.Context, id int64) (*pkg.Product, error) {
	rows, err := s.queryProducts(ctx, `SELECT `+productColumns+` FROM productos WHERE id = ? AND activo = 1`, id)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (s *SQLite) queryProducts(ctx context.Context, query string, args ...any) ([]pkg.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []pkg.Product
	for rows.Next() {
		var p pkg.Product
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &p.Description, &p.Price, &p.Stock, &active, &p.CategoryID); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Active = active == 1
		out = append(out, p)
	}
	return out, rows.Err()
}

// CustomerByPhone tries every phone variant, preferring an exact normalized match
func (s *SQLite) CustomerByPhone(ctx context.Context, phone string) (*pkg.Customer, error) {
	variants := PhoneVariants(phone)
	if len(variants) == 0 {
		return nil, nil
	}

	const normalized = `replace(replace(replace(telefono, '+', ''), ' ', ''), '-', '')`
	conds := make([]string, 0, len(variants))
	args := make([]any, 0, len(variants))
	for _, v := range variants {
		conds = append(conds, normalized+` LIKE ?`)
		args = append(args, "%"+v)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, nombre, telefono, email, direccion FROM clientes WHERE `+
		strings.Join(conds, " OR ")+` ORDER BY nombre ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
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

func bestPhoneMatch(candidates []pkg.Customer, normalized string) *pkg.Customer {
	if len(candidates) == 0 {
		return nil
	}
	for i := range candidates {
		if NormalizePhone(candidates[i].Phone) == normalized {
			return &candidates[i]
		}
	}
	return &candidates[0]
}

// OrderByID loads an order with its lines
func (s *SQLite) OrderByID(ctx context.Context, id int64) (*pkg.Order, error) {
	var o pkg.Order
	err := s.db.QueryRowContext(ctx, `SELECT id, numero_pedido, estado, total FROM pedidos WHERE id = ?`, id).
		Scan(&o.ID, &o.Number, &o.Status, &o.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT producto_id, nombre, cantidad, precio_unitario, subtotal
		FROM pedido_detalles WHERE pedido_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
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

// UpsertProduct inserts or replaces a product row
func (s *SQLite) UpsertProduct(ctx context.Context, p pkg.Product) error {
	active := 0
	if p.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO productos (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Code, p.Description, p.Price, p.Stock, active, p.CategoryID)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// UpsertCustomer inserts or replaces a customer row
func (s *SQLite) UpsertCustomer(ctx context.Context, c pkg.Customer) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO clientes (id, nombre, telefono, email, direccion) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Phone, c.Email, c.Address)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

// SaveOrder writes an order and replaces its lines in one transaction
func (s *SQLite) SaveOrder(ctx context.Context, o pkg.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO pedidos (id, numero_pedido, estado, total) VALUES (?, ?, ?, ?)`,
		o.ID, o.Number, o.Status, o.Total); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pedido_detalles WHERE pedido_id = ?`, o.ID); err != nil {
		return fmt.Errorf("clear order lines: %w", err)
	}
	for _, l := range o.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pedido_detalles (pedido_id, producto_id, nombre, cantidad, precio_unitario, subtotal)
			VALUES (?, ?, ?, ?, ?, ?)`, o.ID, l.ProductID, l.Name, l.Quantity, l.UnitPrice, l.Subtotal); err != nil {
			return fmt.Errorf("save order line: %w", err)
		}
	}
	return tx.Commit()
}
