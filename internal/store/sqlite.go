package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/blendsoftware/possync/internal/types"
)

// SQLiteStore is the SQLite-backed replica and outbox database.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu       sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		path:     dbPath,
		watchers: make(map[int]chan struct{}),
	}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Path returns the on-disk database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection and releases all watchers.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// ReplaceCatalog atomically swaps the catalog snapshot inside one
// transaction. Readers observe either the old or the new catalog, never a
// mix. Rows absent from the snapshot are soft-marked inactive.
func (s *SQLiteStore) ReplaceCatalog(ctx context.Context, snap types.CatalogSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	// Soft-invalidate everything; the upserts below reactivate what the
	// fresh pull still contains.
	if _, err := tx.ExecContext(ctx, `UPDATE products SET activo = 0, updated_at = ?`, now); err != nil {
		return fmt.Errorf("invalidate products: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE categories SET activo = 0, updated_at = ?`, now); err != nil {
		return fmt.Errorf("invalidate categories: %w", err)
	}

	prodStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (id, codigo, codigo_barras, nombre, categoria_id,
			precio_costo, precio_venta, stock, stock_bajo, favorito, activo, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			codigo = excluded.codigo,
			codigo_barras = excluded.codigo_barras,
			nombre = excluded.nombre,
			categoria_id = excluded.categoria_id,
			precio_costo = excluded.precio_costo,
			precio_venta = excluded.precio_venta,
			stock = excluded.stock,
			stock_bajo = excluded.stock_bajo,
			favorito = excluded.favorito,
			activo = excluded.activo,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare product upsert: %w", err)
	}
	defer prodStmt.Close()

	for _, p := range snap.Products {
		_, err := prodStmt.ExecContext(ctx,
			p.ID, p.Code, p.Barcode, p.Name, p.CategoryID,
			p.CostPrice.String(), p.SalePrice.String(),
			p.Stock, boolToInt(p.StockLow), boolToInt(p.Favorite), boolToInt(p.Active),
			now,
		)
		if err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}

	catStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO categories (id, nombre, orden, activo, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nombre = excluded.nombre,
			orden = excluded.orden,
			activo = excluded.activo,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare category upsert: %w", err)
	}
	defer catStmt.Close()

	for _, c := range snap.Categories {
		_, err := catStmt.ExecContext(ctx, c.ID, c.Name, c.DisplayOrder, boolToInt(c.Active), now)
		if err != nil {
			return fmt.Errorf("upsert category %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.notify()
	return nil
}

// QueryProducts returns active products matching the filter, favorites
// first, then lexicographically by name.
func (s *SQLiteStore) QueryProducts(ctx context.Context, filter ProductFilter) ([]types.CatalogProduct, error) {
	query := `
		SELECT id, codigo, codigo_barras, nombre, categoria_id,
		       precio_costo, precio_venta, stock, stock_bajo, favorito, activo, updated_at
		FROM products
		WHERE activo = 1`
	args := []any{}

	if filter.CategoryID != "" {
		query += ` AND categoria_id = ?`
		args = append(args, filter.CategoryID)
	}
	if filter.FavoritesOnly {
		query += ` AND favorito = 1`
	}
	if filter.Text != "" {
		query += ` AND (instr(lower(nombre), ?) > 0 OR instr(lower(codigo), ?) > 0 OR instr(lower(codigo_barras), ?) > 0)`
		needle := strings.ToLower(filter.Text)
		args = append(args, needle, needle, needle)
	}

	query += ` ORDER BY favorito DESC, nombre ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]types.CatalogProduct, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}

	return products, rows.Err()
}

// GetProduct returns an active product by id, or ErrNotFound.
func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*types.CatalogProduct, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, codigo, codigo_barras, nombre, categoria_id,
		       precio_costo, precio_venta, stock, stock_bajo, favorito, activo, updated_at
		FROM products
		WHERE id = ? AND activo = 1
	`, id)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// QueryCategories returns active categories in remote-authoritative display
// order.
func (s *SQLiteStore) QueryCategories(ctx context.Context) ([]types.CatalogCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nombre, orden, activo, updated_at
		FROM categories
		WHERE activo = 1
		ORDER BY orden ASC, nombre ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]types.CatalogCategory, 0)
	for rows.Next() {
		var c types.CatalogCategory
		var active int
		var updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayOrder, &active, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Active = active != 0
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			c.UpdatedAt = t
		}
		categories = append(categories, c)
	}

	return categories, rows.Err()
}

// scanProduct scans a row into a CatalogProduct, handling decimal and
// timestamp parsing.
func scanProduct(scanner interface{ Scan(...any) error }) (*types.CatalogProduct, error) {
	var p types.CatalogProduct
	var costStr, saleStr, updatedAt string
	var stockLow, favorite, active int

	err := scanner.Scan(
		&p.ID, &p.Code, &p.Barcode, &p.Name, &p.CategoryID,
		&costStr, &saleStr, &p.Stock, &stockLow, &favorite, &active, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.CostPrice, err = decimal.NewFromString(costStr); err != nil {
		return nil, fmt.Errorf("parse precio_costo %q: %w", costStr, err)
	}
	if p.SalePrice, err = decimal.NewFromString(saleStr); err != nil {
		return nil, fmt.Errorf("parse precio_venta %q: %w", saleStr, err)
	}
	p.StockLow = stockLow != 0
	p.Favorite = favorite != 0
	p.Active = active != 0
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		p.UpdatedAt = t
	}

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
