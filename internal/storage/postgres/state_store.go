package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/storage"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const curveColumns = `mint, address, name, symbol, creator,
	virtual_sol_reserves, virtual_token_reserves, real_sol_reserves, real_token_reserves,
	tokens_sold, trade_count, migrated, migration_tx, creation_tx, created_at, updated_at`

const tradeColumns = `signature, mint, trader, type, sol_amount, token_amount, fee_amount, price, slot, timestamp`

// StateStore implements storage.StateStore using PostgreSQL.
// Each token, trade and migration is applied in one transaction together with its platform_stats increment.
type StateStore struct {
	pool *Pool
}

// NewStateStore creates a new StateStore.
func NewStateStore(pool *Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StateStore = (*StateStore)(nil)

// TokenExists reports whether a curve for mint exists.
func (s *StateStore) TokenExists(ctx context.Context, mint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tokens WHERE mint = $1)`, mint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("token exists: %w", err)
	}
	return exists, nil
}

// CreateToken inserts a new curve and increments total_tokens. Returns ErrDuplicateKey if mint exists.
func (s *StateStore) CreateToken(ctx context.Context, curve *domain.BondingCurve) error {
	if curve == nil || curve.Mint == "" {
		return storage.ErrInvalidInput
	}
	amounts, err := toBigint(
		curve.VirtualSolReserves, curve.VirtualTokenReserves,
		curve.RealSolReserves, curve.RealTokenReserves,
		curve.TokensSold, curve.TradeCount,
	)
	if err != nil {
		return fmt.Errorf("create token %s: %w: %w", curve.Mint, storage.ErrInvalidInput, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO tokens (`+curveColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		curve.Mint, curve.Address, curve.Name, curve.Symbol, curve.Creator,
		amounts[0], amounts[1], amounts[2], amounts[3], amounts[4], amounts[5],
		curve.Migrated, curve.MigrationTx, curve.CreationTx, curve.CreatedAt, curve.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE platform_stats SET total_tokens = total_tokens + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("increment total_tokens: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MarkMigrated flags the curve as migrated and increments total_migrated.
func (s *StateStore) MarkMigrated(ctx context.Context, mint, signature string, at int64) (*domain.BondingCurve, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	curve, err := lockCurve(ctx, tx, mint)
	if err != nil {
		return nil, err
	}
	if curve.Migrated {
		return nil, storage.ErrMigrated
	}

	_, err = tx.Exec(ctx, `
		UPDATE tokens SET migrated = TRUE, migration_tx = $2, updated_at = $3 WHERE mint = $1
	`, mint, signature, at)
	if err != nil {
		return nil, fmt.Errorf("mark migrated: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE platform_stats SET total_migrated = total_migrated + 1 WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("increment total_migrated: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	sig := signature
	curve.Migrated = true
	curve.MigrationTx = &sig
	curve.UpdatedAt = at
	return curve, nil
}

// GetToken retrieves a curve by mint. Returns ErrNotFound if not exists.
func (s *StateStore) GetToken(ctx context.Context, mint string) (*domain.BondingCurve, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+curveColumns+` FROM tokens WHERE mint = $1`, mint)
	curve, err := scanCurve(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return curve, nil
}

// ListTokens retrieves curves matching q, ordered by created_at ASC.
func (s *StateStore) ListTokens(ctx context.Context, q storage.TokenQuery) ([]*domain.BondingCurve, error) {
	query := psql.Select(curveColumns).From("tokens")
	if q.Creator != "" {
		query = query.Where(sq.Eq{"creator": q.Creator})
	}
	if q.Migrated != nil {
		query = query.Where(sq.Eq{"migrated": *q.Migrated})
	}
	if q.CreatedFrom != 0 {
		query = query.Where(sq.GtOrEq{"created_at": q.CreatedFrom})
	}
	if q.AfterMint != "" {
		query = query.Where(sq.Expr("(created_at, mint) > (?, ?)", q.CreatedFrom, q.AfterMint))
	}
	query = query.OrderBy("created_at ASC", "mint ASC").Limit(uint64(storage.EffectiveLimit(q.Limit)))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tokens query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var curves []*domain.BondingCurve
	for rows.Next() {
		curve, err := scanCurve(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		curves = append(curves, curve)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}
	return curves, nil
}

// TradeExists reports whether a trade with signature was applied.
func (s *StateStore) TradeExists(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trades WHERE signature = $1)`, signature).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("trade exists: %w", err)
	}
	return exists, nil
}

// ApplyTrade inserts the trade, updates the curve row and platform_stats in one transaction.
// The curve row is locked with SELECT ... FOR UPDATE so concurrent writers serialize per token.
func (s *StateStore) ApplyTrade(ctx context.Context, trade *domain.Trade, delta domain.ReserveDelta) (*domain.BondingCurve, error) {
	if trade == nil || trade.Signature == "" || trade.Mint == "" || delta.Direction != trade.Type {
		return nil, storage.ErrInvalidInput
	}
	amounts, err := toBigint(trade.SolAmount, trade.TokenAmount, trade.FeeAmount, trade.Price, trade.Volume())
	if err != nil {
		return nil, fmt.Errorf("apply trade %s: %w: %w", trade.Signature, storage.ErrInvalidInput, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var seen bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trades WHERE signature = $1)`, trade.Signature).Scan(&seen)
	if err != nil {
		return nil, fmt.Errorf("trade exists: %w", err)
	}
	if seen {
		return nil, storage.ErrDuplicateKey
	}

	curve, err := lockCurve(ctx, tx, trade.Mint)
	if err != nil {
		return nil, err
	}
	if curve.Migrated {
		return nil, storage.ErrMigrated
	}

	next := curve.Clone()
	if err := next.Apply(delta); err != nil {
		return nil, fmt.Errorf("apply trade %s: %w: %w", trade.Signature, storage.ErrInvalidInput, err)
	}
	next.UpdatedAt = trade.Timestamp
	reserves, err := toBigint(
		next.VirtualSolReserves, next.VirtualTokenReserves,
		next.RealSolReserves, next.RealTokenReserves, next.TokensSold,
	)
	if err != nil {
		return nil, fmt.Errorf("apply trade %s: %w: %w", trade.Signature, storage.ErrInvalidInput, err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (signature) DO NOTHING
	`,
		trade.Signature, trade.Mint, trade.Trader, trade.Type.String(),
		amounts[0], amounts[1], amounts[2], amounts[3], trade.Slot, trade.Timestamp,
	)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("insert trade %s: %w: %w", trade.Signature, storage.ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("insert trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrDuplicateKey
	}

	_, err = tx.Exec(ctx, `
		UPDATE tokens SET
			virtual_sol_reserves = $2, virtual_token_reserves = $3,
			real_sol_reserves = $4, real_token_reserves = $5,
			tokens_sold = $6, trade_count = trade_count + 1, updated_at = $7
		WHERE mint = $1
	`, trade.Mint, reserves[0], reserves[1], reserves[2], reserves[3], reserves[4], next.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update curve: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE platform_stats SET total_trades = total_trades + 1, total_volume = total_volume + $1 WHERE id = 1
	`, amounts[4])
	if err != nil {
		return nil, fmt.Errorf("increment trade stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

// ListTrades retrieves trades matching q, ordered by timestamp ASC, signature ASC.
func (s *StateStore) ListTrades(ctx context.Context, q storage.TradeQuery) ([]*domain.Trade, error) {
	query := psql.Select(tradeColumns).From("trades")
	if q.Mint != "" {
		query = query.Where(sq.Eq{"mint": q.Mint})
	}
	if q.Trader != "" {
		query = query.Where(sq.Eq{"trader": q.Trader})
	}
	if q.Type != "" {
		query = query.Where(sq.Eq{"type": q.Type.String()})
	}
	if q.From != 0 {
		query = query.Where(sq.GtOrEq{"timestamp": q.From})
	}
	if q.To != 0 {
		query = query.Where(sq.LtOrEq{"timestamp": q.To})
	}
	if q.AfterSignature != "" {
		query = query.Where(sq.Expr("(timestamp, signature) > (?, ?)", q.From, q.AfterSignature))
	}
	query = query.OrderBy("timestamp ASC", "signature ASC").Limit(uint64(storage.EffectiveLimit(q.Limit)))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list trades query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// IncrementStats adds d to platform_stats.
func (s *StateStore) IncrementStats(ctx context.Context, d domain.StatsDelta) error {
	if d.IsZero() {
		return nil
	}
	v, err := toBigint(d.Volume, d.Trades, d.Tokens, d.Migrated)
	if err != nil {
		return fmt.Errorf("increment stats: %w: %w", storage.ErrInvalidInput, err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE platform_stats SET
			total_volume = total_volume + $1,
			total_trades = total_trades + $2,
			total_tokens = total_tokens + $3,
			total_migrated = total_migrated + $4
		WHERE id = 1
	`, v[0], v[1], v[2], v[3])
	if err != nil {
		return fmt.Errorf("increment stats: %w", err)
	}
	return nil
}

// GetStats returns the current platform counters.
func (s *StateStore) GetStats(ctx context.Context) (domain.PlatformStats, error) {
	var volume, trades, tokens, migrated int64
	err := s.pool.QueryRow(ctx, `
		SELECT total_volume, total_trades, total_tokens, total_migrated FROM platform_stats WHERE id = 1
	`).Scan(&volume, &trades, &tokens, &migrated)
	if err != nil {
		if isNotFoundError(err) {
			return domain.PlatformStats{}, nil
		}
		return domain.PlatformStats{}, fmt.Errorf("get stats: %w", err)
	}
	return domain.PlatformStats{
		TotalVolume:   uint64(volume),
		TotalTrades:   uint64(trades),
		TotalTokens:   uint64(tokens),
		TotalMigrated: uint64(migrated),
	}, nil
}

// lockCurve reads the curve row FOR UPDATE. Returns ErrNotFound if mint does not exist.
func lockCurve(ctx context.Context, tx pgx.Tx, mint string) (*domain.BondingCurve, error) {
	row := tx.QueryRow(ctx, `SELECT `+curveColumns+` FROM tokens WHERE mint = $1 FOR UPDATE`, mint)
	curve, err := scanCurve(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock curve: %w", err)
	}
	return curve, nil
}

// scanCurve scans one tokens row.
func scanCurve(row pgx.Row) (*domain.BondingCurve, error) {
	var c domain.BondingCurve
	var vsol, vtoken, rsol, rtoken, sold, trades int64

	err := row.Scan(
		&c.Mint, &c.Address, &c.Name, &c.Symbol, &c.Creator,
		&vsol, &vtoken, &rsol, &rtoken,
		&sold, &trades, &c.Migrated, &c.MigrationTx, &c.CreationTx, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.VirtualSolReserves = uint64(vsol)
	c.VirtualTokenReserves = uint64(vtoken)
	c.RealSolReserves = uint64(rsol)
	c.RealTokenReserves = uint64(rtoken)
	c.TokensSold = uint64(sold)
	c.TradeCount = uint64(trades)
	return &c, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade
		var typ string
		var sol, tokens, fee, price int64

		err := rows.Scan(&t.Signature, &t.Mint, &t.Trader, &typ, &sol, &tokens, &fee, &price, &t.Slot, &t.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		t.Type = domain.TradeType(typ)
		t.SolAmount = uint64(sol)
		t.TokenAmount = uint64(tokens)
		t.FeeAmount = uint64(fee)
		t.Price = uint64(price)
		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
