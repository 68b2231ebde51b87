package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	countTransactionsSinceSQL = `SELECT COUNT(*)
    FROM transactions
    WHERE user_id = $1
      AND created_at >= $2;`

	averageAmountSQL = `SELECT COALESCE(AVG(amount), 0)::text
    FROM transactions
    WHERE user_id = $1;`

	sumReceivedSinceSQL = `SELECT COALESCE(SUM(amount), 0)::text
    FROM transactions
    WHERE user_id = $1
      AND transaction_type = 'receive'
      AND created_at >= $2;`

	insertTransactionSQL = `INSERT INTO transactions (
        id,
        user_id,
        transaction_type,
        amount,
        currency,
        beneficiary_id,
        beneficiary_name,
        status,
        payment_method,
        description,
        metadata,
        risk_score,
        fraud_check_passed,
        completed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    RETURNING id, created_at;`

	getBeneficiarySQL = `SELECT
        id,
        user_id,
        name,
        upi_id,
        account_number,
        ifsc_code,
        added_via,
        is_verified,
        created_at
    FROM beneficiaries
    WHERE id = $1;`

	insertBeneficiarySQL = `INSERT INTO beneficiaries (
        id,
        user_id,
        name,
        upi_id,
        account_number,
        ifsc_code,
        added_via
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	beneficiaryFlaggedSQL = `SELECT EXISTS (
        SELECT 1 FROM fraud_events WHERE details @> $1
    );`

	insertFraudEventSQL = `INSERT INTO fraud_events (
        id,
        user_id,
        event_type,
        details,
        risk_score,
        action_taken
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	insertAuditEntrySQL = `INSERT INTO banking_audit_log (
        id,
        user_id,
        action_type,
        resource_type,
        resource_id,
        initiated_by,
        amount,
        status,
        details
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	advisoryLockSQL   = `SELECT pg_advisory_lock($1);`
	advisoryUnlockSQL = `SELECT pg_advisory_unlock($1);`
)

// SignalStore exposes the read-only lookups the signal collector needs.
type SignalStore interface {
	CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int, error)
	AverageTransactionAmount(ctx context.Context, userID string) (decimal.Decimal, error)
	SumReceivedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error)
	BeneficiaryFlagged(ctx context.Context, beneficiaryID string) (bool, error)
}

// TransactionStore defines operations for transaction persistence.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
}

// BeneficiaryStore defines operations for beneficiary persistence.
type BeneficiaryStore interface {
	GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error)
	InsertBeneficiary(ctx context.Context, ben Beneficiary) (Beneficiary, error)
}

// FraudEventStore defines operations over the append-only fraud event log.
type FraudEventStore interface {
	BeneficiaryFlagged(ctx context.Context, beneficiaryID string) (bool, error)
	InsertFraudEvent(ctx context.Context, event FraudEvent) error
}

// AuditStore records privileged operation outcomes.
type AuditStore interface {
	InsertAudit(ctx context.Context, entry AuditEntry) error
}

// UserLocker serialises the evaluate-then-persist sequence per user.
type UserLocker interface {
	AcquireUserLock(ctx context.Context, userID string) (unlock func(), err error)
}

// Store aggregates Postgres access for transactions, beneficiaries,
// fraud events, and the audit log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies store reachability.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CountTransactionsSince counts a user's transactions created at or after since.
func (s *Store) CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int
	if scanErr := pool.QueryRow(ctx, countTransactionsSinceSQL, userID, since).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count transactions since: %w", scanErr)
	}
	return count, nil
}

// AverageTransactionAmount returns the all-time mean transaction amount for a
// user, zero when the user has no history.
func (s *Store) AverageTransactionAmount(ctx context.Context, userID string) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, err
	}
	var avgStr string
	if scanErr := pool.QueryRow(ctx, averageAmountSQL, userID).Scan(&avgStr); scanErr != nil {
		return decimal.Decimal{}, fmt.Errorf("average transaction amount: %w", scanErr)
	}
	avg, convErr := decimal.NewFromString(avgStr)
	if convErr != nil {
		return decimal.Decimal{}, fmt.Errorf("parse average amount: %w", convErr)
	}
	return avg, nil
}

// SumReceivedSince sums a user's "receive" transactions created at or after since.
func (s *Store) SumReceivedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, err
	}
	var sumStr string
	if scanErr := pool.QueryRow(ctx, sumReceivedSinceSQL, userID, since).Scan(&sumStr); scanErr != nil {
		return decimal.Decimal{}, fmt.Errorf("sum received since: %w", scanErr)
	}
	sum, convErr := decimal.NewFromString(sumStr)
	if convErr != nil {
		return decimal.Decimal{}, fmt.Errorf("parse received sum: %w", convErr)
	}
	return sum, nil
}

// InsertTransaction persists a decided transaction record.
func (s *Store) InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	pool, err := s.getPool()
	if err != nil {
		return Transaction{}, err
	}

	amount := tx.Amount.String()

	row := pool.QueryRow(ctx, insertTransactionSQL,
		tx.ID,
		tx.UserID,
		tx.Type,
		amount,
		tx.Currency,
		tx.BeneficiaryID,
		tx.BeneficiaryName,
		tx.Status,
		tx.PaymentMethod,
		tx.Description,
		tx.Metadata,
		tx.RiskScore,
		tx.FraudCheckPassed,
		tx.CompletedAt,
	)
	if scanErr := row.Scan(&tx.ID, &tx.CreatedAt); scanErr != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", scanErr)
	}
	return tx, nil
}

// GetBeneficiary loads a beneficiary by id. A missing record returns nil
// without error so beneficiary-related signals simply do not fire.
func (s *Store) GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var ben Beneficiary
	row := pool.QueryRow(ctx, getBeneficiarySQL, id)
	scanErr := row.Scan(
		&ben.ID,
		&ben.UserID,
		&ben.Name,
		&ben.UPIID,
		&ben.AccountNumber,
		&ben.IFSCCode,
		&ben.AddedVia,
		&ben.IsVerified,
		&ben.CreatedAt,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get beneficiary: %w", scanErr)
	}
	return &ben, nil
}

// InsertBeneficiary persists a new beneficiary record.
func (s *Store) InsertBeneficiary(ctx context.Context, ben Beneficiary) (Beneficiary, error) {
	pool, err := s.getPool()
	if err != nil {
		return Beneficiary{}, err
	}

	row := pool.QueryRow(ctx, insertBeneficiarySQL,
		ben.ID,
		ben.UserID,
		ben.Name,
		ben.UPIID,
		ben.AccountNumber,
		ben.IFSCCode,
		ben.AddedVia,
	)
	if scanErr := row.Scan(&ben.ID, &ben.CreatedAt); scanErr != nil {
		return Beneficiary{}, fmt.Errorf("insert beneficiary: %w", scanErr)
	}
	return ben, nil
}

// BeneficiaryFlagged reports whether any prior fraud event references the
// beneficiary id in its details blob.
func (s *Store) BeneficiaryFlagged(ctx context.Context, beneficiaryID string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	probe, marshalErr := json.Marshal(map[string]string{"beneficiary_id": beneficiaryID})
	if marshalErr != nil {
		return false, fmt.Errorf("marshal flag probe: %w", marshalErr)
	}

	var flagged bool
	if scanErr := pool.QueryRow(ctx, beneficiaryFlaggedSQL, probe).Scan(&flagged); scanErr != nil {
		return false, fmt.Errorf("beneficiary flagged lookup: %w", scanErr)
	}
	return flagged, nil
}

// InsertFraudEvent appends a fraud event. The log is append-only.
func (s *Store) InsertFraudEvent(ctx context.Context, event FraudEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertFraudEventSQL,
		event.ID,
		event.UserID,
		event.EventType,
		event.Details,
		event.RiskScore,
		event.ActionTaken,
	); execErr != nil {
		return fmt.Errorf("insert fraud event: %w", execErr)
	}
	return nil
}

// InsertAudit appends an audit log entry.
func (s *Store) InsertAudit(ctx context.Context, entry AuditEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertAuditEntrySQL,
		entry.ID,
		entry.UserID,
		entry.ActionType,
		entry.ResourceType,
		entry.ResourceID,
		entry.InitiatedBy,
		entry.Amount.String(),
		entry.Status,
		entry.Details,
	); execErr != nil {
		return fmt.Errorf("insert audit entry: %w", execErr)
	}
	return nil
}

// AcquireUserLock takes a blocking Postgres advisory lock keyed on the user
// id, serialising concurrent evaluate-then-persist sequences for one user.
// The returned func releases the lock and its connection.
func (s *Store) AcquireUserLock(ctx context.Context, userID string) (func(), error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	key := userLockKey(userID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, execErr := conn.Exec(ctx, advisoryLockSQL, key); execErr != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire user lock: %w", execErr)
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Unlock is best effort; the connection release below drops the
		// session lock anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, nil
}

func userLockKey(userID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	return int64(h.Sum64())
}
