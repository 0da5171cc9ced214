package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// defaultTxLimit caps the transaction log view when no limit is given.
const defaultTxLimit = 100

// Repository persists beans and transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the write operations available inside one ledger
// transaction. The bean row stays locked until commit, so two mutations of
// the same bean cannot interleave.
type TxRepository interface {
	GetBeanForUpdate(ctx context.Context, name string) (Bean, error)
	InsertBean(ctx context.Context, bean Bean) (Bean, error)
	UpdateBean(ctx context.Context, bean Bean) (Bean, error)
	InsertTransaction(ctx context.Context, txn Transaction) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. Either
// every write in the callback becomes durable or none does.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetBean fetches one bean by its unique name.
func (r *Repository) GetBean(ctx context.Context, name string) (Bean, error) {
	if r == nil {
		return Bean{}, errors.New("ledger repository not initialised")
	}
	var bean Bean
	err := r.pool.QueryRow(ctx, `SELECT id, name, origin, process, stock_weight, updated_at FROM beans WHERE name=$1`, name).
		Scan(&bean.ID, &bean.Name, &bean.Origin, &bean.Process, &bean.StockWeight, &bean.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bean{}, ErrBeanNotFound
		}
		return Bean{}, err
	}
	return bean, nil
}

// ListBeans returns every bean ordered by name.
func (r *Repository) ListBeans(ctx context.Context) ([]Bean, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, origin, process, stock_weight, updated_at FROM beans ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	beans := []Bean{}
	for rows.Next() {
		var bean Bean
		if err := rows.Scan(&bean.ID, &bean.Name, &bean.Origin, &bean.Process, &bean.StockWeight, &bean.UpdatedAt); err != nil {
			return nil, err
		}
		beans = append(beans, bean)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return beans, nil
}

// ListTransactions returns ledger entries newest-first, joined with the bean
// name for display.
func (r *Repository) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	if limit <= 0 {
		limit = defaultTxLimit
	}
	rows, err := r.pool.Query(ctx, `SELECT t.id, t.bean_id, b.name, t.action_type, t.amount_change, t.note, t.created_at
FROM transactions t
JOIN beans b ON b.id = t.bean_id
ORDER BY t.created_at DESC, t.id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	txns := []Transaction{}
	for rows.Next() {
		var txn Transaction
		if err := rows.Scan(&txn.ID, &txn.BeanID, &txn.BeanName, &txn.Action, &txn.AmountChange, &txn.Note, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txns, nil
}

// Summary aggregates total stock weight and bean count across all lots.
func (r *Repository) Summary(ctx context.Context) (StockSummary, error) {
	if r == nil {
		return StockSummary{}, errors.New("ledger repository not initialised")
	}
	var sum StockSummary
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(stock_weight), 0), COUNT(*) FROM beans`).
		Scan(&sum.TotalStock, &sum.BeanCount)
	if err != nil {
		return StockSummary{}, err
	}
	return sum, nil
}

func (r *txRepository) GetBeanForUpdate(ctx context.Context, name string) (Bean, error) {
	var bean Bean
	err := r.tx.QueryRow(ctx, `SELECT id, name, origin, process, stock_weight, updated_at FROM beans WHERE name=$1 FOR UPDATE`, name).
		Scan(&bean.ID, &bean.Name, &bean.Origin, &bean.Process, &bean.StockWeight, &bean.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bean{}, ErrBeanNotFound
		}
		return Bean{}, err
	}
	return bean, nil
}

func (r *txRepository) InsertBean(ctx context.Context, bean Bean) (Bean, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO beans (name, origin, process, stock_weight, updated_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id, updated_at`, bean.Name, bean.Origin, bean.Process, bean.StockWeight).
		Scan(&bean.ID, &bean.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Concurrent first receive of the same name; the unique
			// constraint is the backstop FOR UPDATE cannot provide for a
			// row that does not exist yet.
			return Bean{}, ErrBeanExists
		}
		return Bean{}, err
	}
	return bean, nil
}

func (r *txRepository) UpdateBean(ctx context.Context, bean Bean) (Bean, error) {
	err := r.tx.QueryRow(ctx, `UPDATE beans SET stock_weight=$2, origin=$3, process=$4, updated_at=NOW() WHERE id=$1 RETURNING updated_at`,
		bean.ID, bean.StockWeight, bean.Origin, bean.Process).
		Scan(&bean.UpdatedAt)
	if err != nil {
		return Bean{}, err
	}
	return bean, nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transactions (bean_id, action_type, amount_change, note, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, txn.BeanID, string(txn.Action), txn.AmountChange, txn.Note).
		Scan(&id)
	return id, err
}
