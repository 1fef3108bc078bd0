package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blendsoftware/possync/internal/types"
)

// Sync meta keys
const (
	metaLastSyncAt = "last_sync_at"
	metaErrorCount = "error_count"
)

// sortableTimeLayout is a fixed-width RFC 3339 variant. RFC3339Nano trims
// trailing fraction zeros, so its strings do not sort chronologically and
// ORDER BY created_at would break strict creation order within a second.
const sortableTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// EnqueueSale durably appends a sale and its line items in one transaction.
// The write is committed before the call returns; any failure propagates to
// the caller so a sale is never silently lost.
func (s *SQLiteStore) EnqueueSale(ctx context.Context, sale types.OutboxSale) error {
	if sale.ID == "" {
		return fmt.Errorf("enqueue sale: missing id")
	}
	if !sale.State.Valid() {
		return fmt.Errorf("enqueue sale %s: %w: %q", sale.ID, ErrInvalidState, sale.State)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var syncedAt any
	if sale.SyncedAt != nil {
		syncedAt = sale.SyncedAt.UTC().Format(sortableTimeLayout)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_sales (id, kiosco_id, medio_pago, descuento, monto_recibido,
			total, estado, terminal, retry_count, last_error, created_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sale.ID, sale.KioscoID, string(sale.PaymentMethod),
		sale.Discount.String(), sale.Tendered.String(), sale.Total.String(),
		string(sale.State), boolToInt(sale.Terminal), sale.RetryCount, sale.LastError,
		sale.CreatedAt.UTC().Format(sortableTimeLayout), syncedAt)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outbox_sale_items (sale_id, position, producto_id, nombre, cantidad, precio_unitario)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare item insert: %w", err)
	}
	defer stmt.Close()

	for i, line := range sale.Lines {
		_, err := stmt.ExecContext(ctx, sale.ID, i, line.ProductID, line.Name, line.Quantity, line.UnitPrice.String())
		if err != nil {
			return fmt.Errorf("insert sale item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.notify()
	return nil
}

// ListPendingSales returns sales not yet SYNCED, oldest first, skipping
// terminally rejected ones. Creation order delivery depends on this
// ordering.
func (s *SQLiteStore) ListPendingSales(ctx context.Context) ([]types.OutboxSale, error) {
	return s.querySales(ctx, `WHERE estado != 'SYNCED' AND terminal = 0 ORDER BY created_at ASC, id ASC`, nil)
}

// ListSales returns the most recent sales regardless of state, newest first.
func (s *SQLiteStore) ListSales(ctx context.Context, limit int) ([]types.OutboxSale, error) {
	return s.querySales(ctx, `ORDER BY created_at DESC LIMIT ?`, []any{limit})
}

// GetSale retrieves a sale and its line items by id.
func (s *SQLiteStore) GetSale(ctx context.Context, id string) (*types.OutboxSale, error) {
	sales, err := s.querySales(ctx, `WHERE id = ?`, []any{id})
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, ErrNotFound
	}
	return &sales[0], nil
}

func (s *SQLiteStore) querySales(ctx context.Context, clause string, args []any) ([]types.OutboxSale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kiosco_id, medio_pago, descuento, monto_recibido, total,
		       estado, terminal, retry_count, last_error, created_at, synced_at
		FROM outbox_sales `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	sales := make([]types.OutboxSale, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}

	for i := range sales {
		lines, err := s.saleLines(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Lines = lines
	}

	return sales, nil
}

func (s *SQLiteStore) saleLines(ctx context.Context, saleID string) ([]types.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT producto_id, nombre, cantidad, precio_unitario
		FROM outbox_sale_items
		WHERE sale_id = ?
		ORDER BY position ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("query sale items: %w", err)
	}
	defer rows.Close()

	lines := make([]types.SaleLine, 0)
	for rows.Next() {
		var l types.SaleLine
		var priceStr string
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Quantity, &priceStr); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		if l.UnitPrice, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse precio_unitario %q: %w", priceStr, err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanSale(scanner interface{ Scan(...any) error }) (*types.OutboxSale, error) {
	var sale types.OutboxSale
	var method, discountStr, tenderedStr, totalStr, state, createdAt string
	var terminal int
	var syncedAt sql.NullString

	err := scanner.Scan(
		&sale.ID, &sale.KioscoID, &method, &discountStr, &tenderedStr, &totalStr,
		&state, &terminal, &sale.RetryCount, &sale.LastError, &createdAt, &syncedAt,
	)
	if err != nil {
		return nil, err
	}

	sale.PaymentMethod = types.PaymentMethod(method)
	sale.State = types.SaleState(state)
	sale.Terminal = terminal != 0
	if sale.Discount, err = decimal.NewFromString(discountStr); err != nil {
		return nil, fmt.Errorf("parse descuento %q: %w", discountStr, err)
	}
	if sale.Tendered, err = decimal.NewFromString(tenderedStr); err != nil {
		return nil, fmt.Errorf("parse monto_recibido %q: %w", tenderedStr, err)
	}
	if sale.Total, err = decimal.NewFromString(totalStr); err != nil {
		return nil, fmt.Errorf("parse total %q: %w", totalStr, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		sale.CreatedAt = t
	}
	if syncedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, syncedAt.String); err == nil {
			sale.SyncedAt = &t
		}
	}

	return &sale, nil
}

// MarkSaleState transitions a sale's state. A SYNCED sale is immutable: any
// attempt to move it elsewhere returns ErrAlreadySynced.
func (s *SQLiteStore) MarkSaleState(ctx context.Context, id string, state types.SaleState, lastError string) error {
	if !state.Valid() {
		return fmt.Errorf("mark sale %s: %w: %q", id, ErrInvalidState, state)
	}

	var current string
	err := s.db.QueryRowContext(ctx, `SELECT estado FROM outbox_sales WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read sale state: %w", err)
	}
	if types.SaleState(current) == types.SaleSynced && state != types.SaleSynced {
		return fmt.Errorf("mark sale %s: %w", id, ErrAlreadySynced)
	}

	var syncedAt any
	if state == types.SaleSynced {
		syncedAt = time.Now().UTC().Format(sortableTimeLayout)
	}

	// Moving a sale back to PENDING clears terminality; it is the re-queue
	// path used by the retry subcommand.
	clearTerminal := 0
	if state == types.SalePending {
		clearTerminal = 1
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE outbox_sales
		SET estado = ?, last_error = ?, synced_at = COALESCE(?, synced_at),
		    terminal = CASE WHEN ? = 1 THEN 0 ELSE terminal END
		WHERE id = ?
	`, string(state), lastError, syncedAt, clearTerminal, id)
	if err != nil {
		return fmt.Errorf("update sale state: %w", err)
	}

	s.notify()
	return nil
}

// MarkSaleTerminal marks a sale FAILED with no further automatic retries.
// The sale stays visible in listings and pending counts for manual review;
// only an explicit requeue to PENDING clears the flag. A SYNCED sale is
// immutable and returns ErrAlreadySynced.
func (s *SQLiteStore) MarkSaleTerminal(ctx context.Context, id string, lastError string) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT estado FROM outbox_sales WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read sale state: %w", err)
	}
	if types.SaleState(current) == types.SaleSynced {
		return fmt.Errorf("mark sale %s: %w", id, ErrAlreadySynced)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE outbox_sales SET estado = ?, terminal = 1, last_error = ? WHERE id = ?
	`, string(types.SaleFailed), lastError, id)
	if err != nil {
		return fmt.Errorf("mark sale terminal: %w", err)
	}

	s.notify()
	return nil
}

// IncrementRetry bumps a sale's retry counter.
func (s *SQLiteStore) IncrementRetry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox_sales SET retry_count = retry_count + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPending returns the number of sales not yet SYNCED. This is the
// pending-count badge: it always reflects true outbox exposure.
func (s *SQLiteStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_sales WHERE estado != 'SYNCED'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// CountSales returns the total number of sales in the outbox.
func (s *SQLiteStore) CountSales(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_sales`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sales: %w", err)
	}
	return count, nil
}

// PurgeSyncedBefore removes SYNCED sales older than cutoff.
func (s *SQLiteStore) PurgeSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox_sales WHERE estado = 'SYNCED' AND created_at < ?
	`, cutoff.UTC().Format(sortableTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("purge synced sales: %w", err)
	}
	return result.RowsAffected()
}

// GetSyncMeta retrieves the persisted sync metadata.
func (s *SQLiteStore) GetSyncMeta(ctx context.Context) (*types.SyncMeta, error) {
	meta := &types.SyncMeta{}

	var lastSync string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, metaLastSyncAt).Scan(&lastSync)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get last_sync_at: %w", err)
	}
	if lastSync != "" {
		if t, parseErr := time.Parse(time.RFC3339Nano, lastSync); parseErr == nil {
			meta.LastSyncAt = &t
		}
	}

	var errCount string
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, metaErrorCount).Scan(&errCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get error_count: %w", err)
	}
	if errCount != "" {
		if n, convErr := strconv.Atoi(errCount); convErr == nil {
			meta.ErrorCount = n
		}
	}

	return meta, nil
}

// SetLastSyncAt records a successful full-sync timestamp and resets the
// cumulative error count.
func (s *SQLiteStore) SetLastSyncAt(ctx context.Context, at time.Time) error {
	if err := s.setMeta(ctx, metaLastSyncAt, at.UTC().Format(sortableTimeLayout)); err != nil {
		return err
	}
	return s.ResetErrorCount(ctx)
}

// IncrementErrorCount bumps and returns the cumulative error count since the
// last successful sync.
func (s *SQLiteStore) IncrementErrorCount(ctx context.Context) (int, error) {
	meta, err := s.GetSyncMeta(ctx)
	if err != nil {
		return 0, err
	}
	next := meta.ErrorCount + 1
	if err := s.setMeta(ctx, metaErrorCount, strconv.Itoa(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// ResetErrorCount clears the cumulative error count.
func (s *SQLiteStore) ResetErrorCount(ctx context.Context) error {
	return s.setMeta(ctx, metaErrorCount, "0")
}

func (s *SQLiteStore) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set sync meta %s: %w", key, err)
	}
	return nil
}
