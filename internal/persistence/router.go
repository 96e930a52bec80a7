// Package persistence routes trade records and price rows to storage
// scoped by (instrument, timeframe).
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/perpdesk/perpdesk/internal/types"
)

// tradesTable is the shared table holding one row per entry order.
const tradesTable = "positions_and_orders"

// Config selects and locates the persistence backend.
type Config struct {
	Type string // sqlite | postgres
	Path string // sqlite file path
	DSN  string // postgres connection string
}

// Router provides (instrument, timeframe)-scoped storage over a
// relational backend. Price tables are provisioned lazily on first
// access; provisioning is idempotent and safe to race.
type Router struct {
	db      *sql.DB
	dialect dialect

	mu     sync.Mutex
	tables map[string]struct{} // provisioned price tables
}

// Open connects to the configured backend and provisions the shared
// trades table.
func Open(cfg Config) (*Router, error) {
	var (
		d   dialect
		dsn string
	)
	switch cfg.Type {
	case "sqlite":
		d = sqliteDialect
		dsn = cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000"
	case "postgres":
		d = postgresDialect
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("%w: unsupported persistence type %q", types.ErrInvalidConfig, cfg.Type)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &Router{
		db:      db,
		dialect: d,
		tables:  make(map[string]struct{}),
	}
	if err := r.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Router) Close() error {
	return r.db.Close()
}

// TableName returns the storage identity for an (instrument, timeframe)
// pair. Identity is case-insensitive and stable: btc-usdt/1h and
// BTC-USDT/1H resolve to the same table.
func TableName(instrument, timeframe string) string {
	name := strings.ToUpper(instrument) + "_" + strings.ToUpper(timeframe)
	// Fold separators so the identity is a plain SQL identifier.
	var b strings.Builder
	for _, ch := range name {
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' {
			b.WriteRune(ch)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}

// migrate creates the shared trades table.
func (r *Router) migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		pk %s,
		order_id TEXT NOT NULL,
		order_type TEXT NOT NULL,
		status BOOLEAN NOT NULL,
		order_volume %s NOT NULL,
		balance %s NOT NULL,
		instrument TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		side_of_trade TEXT NOT NULL,
		enter_price %s NOT NULL,
		open_time %s NOT NULL,
		takeprofit_order_id TEXT,
		takeprofit_price %s,
		stoploss_order_id TEXT,
		stoploss_price %s,
		history_of_trade %s
	)`, tradesTable, r.dialect.serialPK,
		r.dialect.numericType, r.dialect.numericType, r.dialect.numericType,
		r.dialect.timestampType,
		r.dialect.numericType, r.dialect.numericType,
		r.dialect.jsonType)

	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create trades table: %w", err)
	}

	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_trades_instrument ON %s(instrument)`, tradesTable)
	if _, err := r.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create trades index: %w", err)
	}
	return nil
}

// ensurePriceTable provisions the price table for a pair on first
// access. CREATE TABLE IF NOT EXISTS makes concurrent duplicate
// creates harmless.
func (r *Router) ensurePriceTable(ctx context.Context, instrument, timeframe string) (string, error) {
	table := TableName(instrument, timeframe)

	r.mu.Lock()
	_, provisioned := r.tables[table]
	r.mu.Unlock()
	if provisioned {
		return table, nil
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		pk %s,
		timestamp %s NOT NULL UNIQUE,
		instrument TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		open %s NOT NULL,
		close %s NOT NULL,
		high %s NOT NULL,
		low %s NOT NULL,
		volume %s NOT NULL,
		volume_quote %s NOT NULL
	)`, table, r.dialect.serialPK, r.dialect.timestampType,
		r.dialect.numericType, r.dialect.numericType, r.dialect.numericType,
		r.dialect.numericType, r.dialect.numericType, r.dialect.numericType)

	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("create table %s: %w", table, err)
	}

	r.mu.Lock()
	r.tables[table] = struct{}{}
	r.mu.Unlock()
	return table, nil
}

// WriteTrade persists one trade record into the shared trades table.
// The JSON history payload is validated against the fixed schema before
// it reaches the database.
func (r *Router) WriteTrade(ctx context.Context, rec *types.TradeRecord) error {
	history, err := marshalHistory(rec.History)
	if err != nil {
		return err
	}

	query := r.dialect.rebind(fmt.Sprintf(`INSERT INTO %s (
		order_id, order_type, status, order_volume, balance,
		instrument, timeframe, leverage, side_of_trade,
		enter_price, open_time,
		takeprofit_order_id, takeprofit_price,
		stoploss_order_id, stoploss_price,
		history_of_trade
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tradesTable))

	_, err = r.db.ExecContext(ctx, query,
		rec.OrderID,
		rec.OrderType,
		rec.Status,
		rec.OrderVolume.String(),
		rec.Balance.String(),
		rec.Instrument,
		rec.Timeframe,
		rec.Leverage,
		rec.Side.String(),
		rec.EnterPrice.String(),
		rec.OpenTime,
		nullString(rec.TakeProfitID),
		nullDecimal(rec.TakeProfitPrice),
		nullString(rec.StopLossID),
		nullDecimal(rec.StopLossPrice),
		history,
	)
	if err != nil {
		return fmt.Errorf("write trade %s: %w", rec.OrderID, err)
	}
	return nil
}

// TradesByInstrument returns the most recent trade records for an
// instrument, newest first.
func (r *Router) TradesByInstrument(ctx context.Context, instrument string, limit int) ([]types.TradeRecord, error) {
	query := r.dialect.rebind(fmt.Sprintf(`SELECT
		order_id, order_type, status, order_volume, balance,
		instrument, timeframe, leverage, side_of_trade,
		enter_price, open_time,
		takeprofit_order_id, takeprofit_price,
		stoploss_order_id, stoploss_price,
		history_of_trade
	FROM %s WHERE instrument = ? ORDER BY open_time DESC LIMIT ?`, tradesTable))

	rows, err := r.db.QueryContext(ctx, query, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var records []types.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// WritePriceRows writes a batch of price rows for a pair in a single
// transaction. On any row failure the whole batch rolls back; readers
// never see a partial batch.
func (r *Router) WritePriceRows(ctx context.Context, instrument, timeframe string, priceRows []types.PriceRow) error {
	table, err := r.ensurePriceTable(ctx, instrument, timeframe)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := r.dialect.rebind(fmt.Sprintf(`INSERT INTO %s (
		timestamp, instrument, timeframe,
		open, close, high, low, volume, volume_quote
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, table))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range priceRows {
		_, err := stmt.ExecContext(ctx,
			row.Timestamp,
			instrument,
			timeframe,
			row.Open.String(),
			row.Close.String(),
			row.High.String(),
			row.Low.String(),
			row.Volume.String(),
			row.VolumeQuote.String(),
		)
		if err != nil {
			return fmt.Errorf("insert price row %s: %w", row.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit price rows: %w", err)
	}
	return nil
}

// QueryPriceRange returns price rows for a pair in ascending timestamp
// order. Zero from/to bounds are open-ended.
func (r *Router) QueryPriceRange(ctx context.Context, instrument, timeframe string, from, to time.Time) ([]types.PriceRow, error) {
	table, err := r.ensurePriceTable(ctx, instrument, timeframe)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT timestamp, open, close, high, low, volume, volume_quote
		FROM %s`, table)
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, to)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp ASC"

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query price range: %w", err)
	}
	defer rows.Close()

	var result []types.PriceRow
	for rows.Next() {
		var (
			row                                 types.PriceRow
			open, close_, high, low, vol, volQ  string
		)
		if err := rows.Scan(&row.Timestamp, &open, &close_, &high, &low, &vol, &volQ); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		if row.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("parse open: %w", err)
		}
		if row.Close, err = decimal.NewFromString(close_); err != nil {
			return nil, fmt.Errorf("parse close: %w", err)
		}
		if row.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("parse high: %w", err)
		}
		if row.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("parse low: %w", err)
		}
		if row.Volume, err = decimal.NewFromString(vol); err != nil {
			return nil, fmt.Errorf("parse volume: %w", err)
		}
		if row.VolumeQuote, err = decimal.NewFromString(volQ); err != nil {
			return nil, fmt.Errorf("parse volume_quote: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// marshalHistory validates and serializes the trade history payload.
func marshalHistory(h *types.TradeHistory) (sql.NullString, error) {
	if h == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal trade history: %w", err)
	}
	if err := ValidateHistory(raw); err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// ValidateHistory checks a raw JSON payload against the fixed trade
// history schema. Unknown fields are rejected.
func ValidateHistory(raw []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	var h types.TradeHistory
	if err := dec.Decode(&h); err != nil {
		return fmt.Errorf("trade history: %w", types.ErrInvalidFormat)
	}
	return nil
}

func scanTrade(rows *sql.Rows) (types.TradeRecord, error) {
	var (
		rec                        types.TradeRecord
		volume, balance, enter     string
		side                       string
		tpID, slID, tpPx, slPx     sql.NullString
		history                    sql.NullString
	)
	err := rows.Scan(
		&rec.OrderID, &rec.OrderType, &rec.Status, &volume, &balance,
		&rec.Instrument, &rec.Timeframe, &rec.Leverage, &side,
		&enter, &rec.OpenTime,
		&tpID, &tpPx, &slID, &slPx,
		&history,
	)
	if err != nil {
		return rec, fmt.Errorf("scan trade: %w", err)
	}

	if rec.Side, err = types.ParseSide(side); err != nil {
		return rec, err
	}
	if rec.OrderVolume, err = decimal.NewFromString(volume); err != nil {
		return rec, fmt.Errorf("parse order volume: %w", err)
	}
	if rec.Balance, err = decimal.NewFromString(balance); err != nil {
		return rec, fmt.Errorf("parse balance: %w", err)
	}
	if rec.EnterPrice, err = decimal.NewFromString(enter); err != nil {
		return rec, fmt.Errorf("parse enter price: %w", err)
	}
	rec.TakeProfitID = tpID.String
	rec.StopLossID = slID.String
	if tpPx.Valid {
		if rec.TakeProfitPrice, err = decimal.NewFromString(tpPx.String); err != nil {
			return rec, fmt.Errorf("parse take-profit price: %w", err)
		}
	}
	if slPx.Valid {
		if rec.StopLossPrice, err = decimal.NewFromString(slPx.String); err != nil {
			return rec, fmt.Errorf("parse stop-loss price: %w", err)
		}
	}
	if history.Valid {
		var h types.TradeHistory
		if err := json.Unmarshal([]byte(history.String), &h); err != nil {
			return rec, fmt.Errorf("trade history: %w", types.ErrInvalidFormat)
		}
		rec.History = &h
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d decimal.Decimal) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
