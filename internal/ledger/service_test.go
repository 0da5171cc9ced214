package ledger

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errInsertFailed = errors.New("transaction insert failed")

type memoryRepo struct {
	beans         map[string]Bean
	txns          []Transaction
	nextBeanID    int64
	nextTxnID     int64
	failTxnInsert bool
}

type memoryTx struct {
	beans         map[string]Bean
	txns          []Transaction
	nextBeanID    int64
	nextTxnID     int64
	failTxnInsert bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{beans: make(map[string]Bean)}
}

// WithTx applies fn against a working copy and publishes it only on success,
// mirroring storage-level rollback.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		beans:         maps.Clone(r.beans),
		txns:          slices.Clone(r.txns),
		nextBeanID:    r.nextBeanID,
		nextTxnID:     r.nextTxnID,
		failTxnInsert: r.failTxnInsert,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.beans = tx.beans
	r.txns = tx.txns
	r.nextBeanID = tx.nextBeanID
	r.nextTxnID = tx.nextTxnID
	return nil
}

func (r *memoryRepo) GetBean(ctx context.Context, name string) (Bean, error) {
	bean, ok := r.beans[name]
	if !ok {
		return Bean{}, ErrBeanNotFound
	}
	return bean, nil
}

func (r *memoryRepo) ListBeans(ctx context.Context) ([]Bean, error) {
	beans := slices.Collect(maps.Values(r.beans))
	slices.SortFunc(beans, func(a, b Bean) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return beans, nil
}

func (r *memoryRepo) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultTxLimit
	}
	txns := slices.Clone(r.txns)
	slices.Reverse(txns)
	if len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (r *memoryRepo) Summary(ctx context.Context) (StockSummary, error) {
	var sum StockSummary
	for _, bean := range r.beans {
		sum.TotalStock += bean.StockWeight
		sum.BeanCount++
	}
	return sum, nil
}

func (tx *memoryTx) GetBeanForUpdate(ctx context.Context, name string) (Bean, error) {
	bean, ok := tx.beans[name]
	if !ok {
		return Bean{}, ErrBeanNotFound
	}
	return bean, nil
}

func (tx *memoryTx) InsertBean(ctx context.Context, bean Bean) (Bean, error) {
	if _, ok := tx.beans[bean.Name]; ok {
		return Bean{}, ErrBeanExists
	}
	tx.nextBeanID++
	bean.ID = tx.nextBeanID
	bean.UpdatedAt = time.Now()
	tx.beans[bean.Name] = bean
	return bean, nil
}

func (tx *memoryTx) UpdateBean(ctx context.Context, bean Bean) (Bean, error) {
	bean.UpdatedAt = time.Now()
	tx.beans[bean.Name] = bean
	return bean, nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	if tx.failTxnInsert {
		return 0, errInsertFailed
	}
	tx.nextTxnID++
	txn.ID = tx.nextTxnID
	txn.CreatedAt = time.Now()
	tx.txns = append(tx.txns, txn)
	return txn.ID, nil
}

func ledgerSum(txns []Transaction, beanID int64) float64 {
	var sum float64
	for _, txn := range txns {
		if txn.BeanID == beanID {
			sum += txn.AmountChange
		}
	}
	return sum
}

func TestReceiveCreatesBean(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	result, err := svc.Receive(ctx, ReceiveInput{Name: "Yirgacheffe", Origin: "Ethiopia", Process: "Washed", Weight: 10.0})
	require.NoError(t, err)
	require.True(t, result.Created)
	require.InDelta(t, 10.0, result.Bean.StockWeight, 1e-9)
	require.Equal(t, "Ethiopia", result.Bean.Origin)

	require.Len(t, repo.txns, 1)
	require.Equal(t, ActionInbound, repo.txns[0].Action)
	require.InDelta(t, 10.0, repo.txns[0].AmountChange, 1e-9)
	require.Equal(t, "new bean created", repo.txns[0].Note)
}

func TestReceiveAccumulatesAndOverwritesMetadata(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "Geisha", Origin: "Panama", Process: "Natural", Weight: 5.0})
	require.NoError(t, err)
	result, err := svc.Receive(ctx, ReceiveInput{Name: "Geisha", Weight: 5.0})
	require.NoError(t, err)

	require.False(t, result.Created)
	require.InDelta(t, 10.0, result.Bean.StockWeight, 1e-9)
	// Last write wins on metadata, blanks included.
	require.Empty(t, result.Bean.Origin)
	require.Empty(t, result.Bean.Process)
	require.Len(t, repo.txns, 2)
	require.InDelta(t, 5.0, repo.txns[1].AmountChange, 1e-9)
}

func TestReceiveZeroWeightIsLogged(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "Bourbon", Weight: 4.0})
	require.NoError(t, err)
	result, err := svc.Receive(ctx, ReceiveInput{Name: "Bourbon", Weight: 0})
	require.NoError(t, err)
	require.InDelta(t, 4.0, result.Bean.StockWeight, 1e-9)
	require.Len(t, repo.txns, 2)
	require.Zero(t, repo.txns[1].AmountChange)
}

func TestReceiveValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "   ", Weight: 1.0})
	require.ErrorIs(t, err, ErrNameRequired)

	_, err = svc.Receive(ctx, ReceiveInput{Name: "Typica", Weight: -1.0})
	require.ErrorIs(t, err, ErrInvalidWeight)

	require.Empty(t, repo.txns)
	require.Empty(t, repo.beans)
}

func TestInvalidRefRejectedBeforeWrite(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "Typica", Weight: 1.0, Ref: "not-a-uuid"})
	require.ErrorIs(t, err, ErrInvalidRef)
	require.Empty(t, repo.txns)
}

func TestConsumeUnderflowAllowed(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "Pacamara", Weight: 3.0})
	require.NoError(t, err)

	result, err := svc.Consume(ctx, ConsumeInput{Name: "Pacamara", Weight: 5.0})
	require.NoError(t, err)
	require.True(t, result.Underflow)
	require.InDelta(t, -2.0, result.Bean.StockWeight, 1e-9)

	require.Len(t, repo.txns, 2)
	require.Equal(t, ActionRoast, repo.txns[1].Action)
	require.InDelta(t, -5.0, repo.txns[1].AmountChange, 1e-9)
}

func TestConsumeUnknownBean(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Consume(ctx, ConsumeInput{Name: "NoSuchBean", Weight: 1.0})
	require.ErrorIs(t, err, ErrBeanNotFound)
	require.Empty(t, repo.txns)
}

func TestCorrectAppliesDiff(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "SL28", Weight: 7.0})
	require.NoError(t, err)

	result, err := svc.Correct(ctx, CorrectInput{Name: "SL28", ActualWeight: 5.0})
	require.NoError(t, err)
	require.InDelta(t, -2.0, result.Diff, 1e-9)
	require.InDelta(t, 5.0, result.Bean.StockWeight, 1e-9)

	require.Len(t, repo.txns, 2)
	require.Equal(t, ActionStocktake, repo.txns[1].Action)
	require.InDelta(t, -2.0, repo.txns[1].AmountChange, 1e-9)
}

func TestCorrectNoopWritesNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "Caturra", Weight: 6.0})
	require.NoError(t, err)
	before := repo.beans["Caturra"].UpdatedAt

	result, err := svc.Correct(ctx, CorrectInput{Name: "Caturra", ActualWeight: 6.0})
	require.NoError(t, err)
	require.Zero(t, result.Diff)
	require.Len(t, repo.txns, 1)
	require.Equal(t, before, repo.beans["Caturra"].UpdatedAt)
}

func TestStockMatchesLedgerSum(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "Catuai", Weight: 12.5})
	require.NoError(t, err)
	beanID := repo.beans["Catuai"].ID
	require.InDelta(t, repo.beans["Catuai"].StockWeight, ledgerSum(repo.txns, beanID), 1e-9)

	_, err = svc.Consume(ctx, ConsumeInput{Name: "Catuai", Weight: 4.2})
	require.NoError(t, err)
	require.InDelta(t, repo.beans["Catuai"].StockWeight, ledgerSum(repo.txns, beanID), 1e-9)

	_, err = svc.Correct(ctx, CorrectInput{Name: "Catuai", ActualWeight: 7.0})
	require.NoError(t, err)
	require.InDelta(t, repo.beans["Catuai"].StockWeight, ledgerSum(repo.txns, beanID), 1e-9)

	_, err = svc.Receive(ctx, ReceiveInput{Name: "Catuai", Weight: 3.3})
	require.NoError(t, err)
	require.InDelta(t, repo.beans["Catuai"].StockWeight, ledgerSum(repo.txns, beanID), 1e-9)
}

func TestFailedLedgerInsertRollsBackBean(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "Mundo Novo", Weight: 9.0})
	require.NoError(t, err)

	repo.failTxnInsert = true
	_, err = svc.Consume(ctx, ConsumeInput{Name: "Mundo Novo", Weight: 2.0})
	require.ErrorIs(t, err, errInsertFailed)

	// The bean update must have rolled back with the ledger insert.
	require.InDelta(t, 9.0, repo.beans["Mundo Novo"].StockWeight, 1e-9)
	require.Len(t, repo.txns, 1)
}

func TestGetOverview(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Name: "Yirgacheffe", Weight: 10.0})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, ReceiveInput{Name: "Geisha", Weight: 2.5})
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ConsumeInput{Name: "Yirgacheffe", Weight: 1.5})
	require.NoError(t, err)

	ov, err := svc.GetOverview(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, ov.Summary.BeanCount)
	require.InDelta(t, 11.0, ov.Summary.TotalStock, 1e-9)
	require.Len(t, ov.Beans, 2)
	require.Len(t, ov.Recent, 3)
	require.Equal(t, ActionRoast, ov.Recent[0].Action)
}
