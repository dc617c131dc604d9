package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	_ "github.com/lib/pq"

	"github.com/1inch/swap-coordinator/internal/config"
	"github.com/1inch/swap-coordinator/internal/types"
)

// Open connects to Postgres and verifies the connection.
func Open(cfg config.Database) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Postgres is the durable Store implementation.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const orderColumns = `
	order_id, status, maker, src_chain, src_token, src_amount,
	dst_chain, dst_token, secret_hash, min_acceptable_price, order_duration,
	nonce, deadline, auction_start_price, auction_end_price, auction_duration,
	auction_start_time, market_price, signature, resolver, committed_price,
	commitment_time, commitment_deadline, src_escrow, dst_escrow,
	funds_moved_at, src_settlement_tx, dst_settlement_tx, dst_amount,
	secret_revealed_at, secret_reveal_tx, competition_deadline,
	created_at, expires_at, updated_at`

// Save implements Store as an upsert keyed by order id.
func (p *Postgres) Save(ctx context.Context, o *types.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
		        $19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35)
		ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status,
			resolver = EXCLUDED.resolver,
			committed_price = EXCLUDED.committed_price,
			commitment_time = EXCLUDED.commitment_time,
			commitment_deadline = EXCLUDED.commitment_deadline,
			src_escrow = EXCLUDED.src_escrow,
			dst_escrow = EXCLUDED.dst_escrow,
			funds_moved_at = EXCLUDED.funds_moved_at,
			src_settlement_tx = EXCLUDED.src_settlement_tx,
			dst_settlement_tx = EXCLUDED.dst_settlement_tx,
			dst_amount = EXCLUDED.dst_amount,
			secret_revealed_at = EXCLUDED.secret_revealed_at,
			secret_reveal_tx = EXCLUDED.secret_reveal_tx,
			competition_deadline = EXCLUDED.competition_deadline,
			updated_at = EXCLUDED.updated_at`

	_, err := p.db.ExecContext(ctx, query,
		o.ID.Hex(), string(o.Status), o.Intent.Maker.Hex(), o.Intent.SrcChain,
		o.Intent.SrcToken.Hex(), o.Intent.SrcAmount.String(),
		o.Intent.DstChain, o.Intent.DstToken.Hex(), o.Intent.SecretHash.Hex(),
		o.Intent.MinAcceptablePrice.String(), o.Intent.OrderDuration,
		o.Intent.Nonce.String(), o.Intent.Deadline,
		o.Auction.StartPrice.String(), o.Auction.EndPrice.String(),
		o.Auction.Duration, o.Auction.StartTime,
		o.MarketPrice.String(), o.Signature.String(),
		addrPtr(o.Resolver), bigPtr(o.CommittedPrice),
		o.CommitmentTime, o.CommitmentDeadline,
		addrPtr(o.SrcEscrow), addrPtr(o.DstEscrow),
		o.FundsMovedAt, o.SrcSettlementTx, o.DstSettlementTx, bigPtr(o.DstAmount),
		o.SecretRevealedAt, o.SecretRevealTx, o.CompetitionDeadline,
		o.CreatedAt, o.ExpiresAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, id common.Hash) (*types.Order, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, id.Hex())
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return order, err
}

// ListByStatus implements Store.
func (p *Postgres) ListByStatus(ctx context.Context, statuses ...types.OrderStatus) ([]*types.Order, error) {
	args := make([]interface{}, len(statuses))
	placeholders := ""
	for i, s := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = string(s)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status IN (`+placeholders+`) ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders by status: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// Expired implements Store.
func (p *Postgres) Expired(ctx context.Context, now time.Time) ([]*types.Order, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = $1 AND expires_at < $2`,
		string(types.StatusActive), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ExpiredCommitments implements Store.
func (p *Postgres) ExpiredCommitments(ctx context.Context, now time.Time) ([]*types.Order, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = $1 AND commitment_deadline < $2`,
		string(types.StatusCommitted), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired commitments: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// PendingReveal implements Store.
func (p *Postgres) PendingReveal(ctx context.Context, cutoff time.Time) ([]*types.Order, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = $1 AND src_settlement_tx <> '' AND secret_revealed_at IS NULL
		   AND funds_moved_at < $2`,
		string(types.StatusSettling), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending reveals: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// SaveSecret implements Store.
func (p *Postgres) SaveSecret(ctx context.Context, s *types.Secret) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO secrets (order_id, preimage, hash, created_at, revealed_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (order_id) DO NOTHING`,
		s.OrderID.Hex(), s.Preimage.String(), s.Hash.Hex(), s.CreatedAt, s.RevealedAt)
	if err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

// GetSecret implements Store.
func (p *Postgres) GetSecret(ctx context.Context, id common.Hash) (*types.Secret, error) {
	var (
		s          types.Secret
		orderID    string
		preimage   string
		hash       string
		revealedAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT order_id, preimage, hash, created_at, revealed_at FROM secrets WHERE order_id = $1`,
		id.Hex()).Scan(&orderID, &preimage, &hash, &s.CreatedAt, &revealedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	s.OrderID = common.HexToHash(orderID)
	s.Hash = common.HexToHash(hash)
	raw, err := hexutil.Decode(preimage)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored preimage: %w", err)
	}
	s.Preimage = raw
	if revealedAt.Valid {
		s.RevealedAt = &revealedAt.Time
	}
	return &s, nil
}

// MarkRevealed implements Store.
func (p *Postgres) MarkRevealed(ctx context.Context, id common.Hash, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE secrets SET revealed_at = $1 WHERE order_id = $2`, at, id.Hex())
	if err != nil {
		return fmt.Errorf("failed to mark secret revealed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveCommitment implements Store.
func (p *Postgres) SaveCommitment(ctx context.Context, c *types.ResolverCommitment) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO commitments (id, order_id, resolver, accepted_price, ts, status)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.OrderID.Hex(), c.Resolver.Hex(), c.AcceptedPrice.String(), c.Timestamp, string(c.Status))
	if err != nil {
		return fmt.Errorf("failed to save commitment: %w", err)
	}
	return nil
}

// UpdateCommitmentStatus implements Store.
func (p *Postgres) UpdateCommitmentStatus(ctx context.Context, id string, status types.CommitmentStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE commitments SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update commitment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveCommitment implements Store.
func (p *Postgres) ActiveCommitment(ctx context.Context, orderID common.Hash) (*types.ResolverCommitment, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, order_id, resolver, accepted_price, ts, status
		 FROM commitments WHERE order_id = $1 AND status = $2`,
		orderID.Hex(), string(types.CommitmentActive))
	c, err := scanCommitment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// Commitments implements Store.
func (p *Postgres) Commitments(ctx context.Context, orderID common.Hash) ([]*types.ResolverCommitment, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, order_id, resolver, accepted_price, ts, status
		 FROM commitments WHERE order_id = $1 ORDER BY ts ASC`, orderID.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to query commitments: %w", err)
	}
	defer rows.Close()

	var out []*types.ResolverCommitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stats implements Store.
func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[types.OrderStatus]int)}

	rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query order stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.ByStatus[types.OrderStatus(status)] = count
		stats.TotalOrders += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM secrets`).Scan(&stats.Secrets); err != nil {
		return nil, fmt.Errorf("failed to count secrets: %w", err)
	}
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commitments`).Scan(&stats.Commitments); err != nil {
		return nil, fmt.Errorf("failed to count commitments: %w", err)
	}
	return stats, nil
}

// Prune implements Store. Secrets and commitments cascade with the order.
func (p *Postgres) Prune(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM orders WHERE status IN ($1,$2) AND updated_at < $3`,
		string(types.StatusCompleted), string(types.StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune orders: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*types.Order, error) {
	var (
		o types.Order

		orderID, maker, srcToken, dstToken, secretHash    string
		srcAmount, minPrice, nonce, startPrice, endPrice  string
		marketPrice, signature                            string
		resolver, committedPrice, srcEscrow, dstEscrow    sql.NullString
		dstAmount                                         sql.NullString
		commitmentTime, commitmentDeadline, fundsMovedAt  sql.NullTime
		secretRevealedAt, competitionDeadline             sql.NullTime
		status                                            string
	)

	err := row.Scan(
		&orderID, &status, &maker, &o.Intent.SrcChain, &srcToken, &srcAmount,
		&o.Intent.DstChain, &dstToken, &secretHash, &minPrice, &o.Intent.OrderDuration,
		&nonce, &o.Intent.Deadline, &startPrice, &endPrice, &o.Auction.Duration,
		&o.Auction.StartTime, &marketPrice, &signature, &resolver, &committedPrice,
		&commitmentTime, &commitmentDeadline, &srcEscrow, &dstEscrow,
		&fundsMovedAt, &o.SrcSettlementTx, &o.DstSettlementTx, &dstAmount,
		&secretRevealedAt, &o.SecretRevealTx, &competitionDeadline,
		&o.CreatedAt, &o.ExpiresAt, &o.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	o.ID = common.HexToHash(orderID)
	o.Status = types.OrderStatus(status)
	o.Intent.Maker = common.HexToAddress(maker)
	o.Intent.SrcToken = common.HexToAddress(srcToken)
	o.Intent.DstToken = common.HexToAddress(dstToken)
	o.Intent.SecretHash = common.HexToHash(secretHash)

	if o.Intent.SrcAmount, err = parseBig(srcAmount); err != nil {
		return nil, err
	}
	if o.Intent.MinAcceptablePrice, err = parseBig(minPrice); err != nil {
		return nil, err
	}
	if o.Intent.Nonce, err = parseBig(nonce); err != nil {
		return nil, err
	}
	if o.Auction.StartPrice, err = parseBig(startPrice); err != nil {
		return nil, err
	}
	if o.Auction.EndPrice, err = parseBig(endPrice); err != nil {
		return nil, err
	}
	if o.MarketPrice, err = parseBig(marketPrice); err != nil {
		return nil, err
	}
	if signature != "" && signature != "0x" {
		raw, err := hexutil.Decode(signature)
		if err != nil {
			return nil, fmt.Errorf("failed to decode stored signature: %w", err)
		}
		o.Signature = raw
	}

	if resolver.Valid {
		addr := common.HexToAddress(resolver.String)
		o.Resolver = &addr
	}
	if committedPrice.Valid {
		if o.CommittedPrice, err = parseBig(committedPrice.String); err != nil {
			return nil, err
		}
	}
	if dstAmount.Valid {
		if o.DstAmount, err = parseBig(dstAmount.String); err != nil {
			return nil, err
		}
	}
	if srcEscrow.Valid {
		addr := common.HexToAddress(srcEscrow.String)
		o.SrcEscrow = &addr
	}
	if dstEscrow.Valid {
		addr := common.HexToAddress(dstEscrow.String)
		o.DstEscrow = &addr
	}
	if commitmentTime.Valid {
		o.CommitmentTime = &commitmentTime.Time
	}
	if commitmentDeadline.Valid {
		o.CommitmentDeadline = &commitmentDeadline.Time
	}
	if fundsMovedAt.Valid {
		o.FundsMovedAt = &fundsMovedAt.Time
	}
	if secretRevealedAt.Valid {
		o.SecretRevealedAt = &secretRevealedAt.Time
	}
	if competitionDeadline.Valid {
		o.CompetitionDeadline = &competitionDeadline.Time
	}

	return &o, nil
}

func scanCommitment(row scanner) (*types.ResolverCommitment, error) {
	var (
		c                                  types.ResolverCommitment
		orderID, resolver, price, status   string
	)
	err := row.Scan(&c.ID, &orderID, &resolver, &price, &c.Timestamp, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan commitment: %w", err)
	}
	c.OrderID = common.HexToHash(orderID)
	c.Resolver = common.HexToAddress(resolver)
	c.Status = types.CommitmentStatus(status)
	if c.AcceptedPrice, err = parseBig(price); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectOrders(rows *sql.Rows) ([]*types.Order, error) {
	var out []*types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse big integer %q", s)
	}
	return v, nil
}

func addrPtr(a *common.Address) interface{} {
	if a == nil {
		return nil
	}
	return a.Hex()
}

func bigPtr(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}
