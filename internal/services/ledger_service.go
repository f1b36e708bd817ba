package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/imagely/backend/internal/models"
)

// LedgerService owns the accounts and transactions tables. Balance changes
// and settlement transitions are single conditional SQL statements so that
// concurrent callers can never lose an update or settle twice; application
// code never composes a read with a separate write.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx so the conditional
// updates can run standalone or inside a caller-owned transaction.
type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

// GetBalance returns the current credit balance of an account.
func (s *LedgerService) GetBalance(accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT credit_balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// AdjustBalance applies a signed delta to an account's balance as one
// atomic update. The update is conditioned on the resulting balance staying
// non-negative, so a debit racing another debit fails cleanly instead of
// overdrawing.
func (s *LedgerService) AdjustBalance(accountID string, delta int64) (int64, error) {
	return s.adjustBalance(s.db, accountID, delta)
}

// AdjustBalanceTx is AdjustBalance inside a caller-owned transaction.
func (s *LedgerService) AdjustBalanceTx(tx *sql.Tx, accountID string, delta int64) (int64, error) {
	return s.adjustBalance(tx, accountID, delta)
}

func (s *LedgerService) adjustBalance(q rowQuerier, accountID string, delta int64) (int64, error) {
	var newBalance int64
	err := q.QueryRow(`
		UPDATE accounts
		SET credit_balance = credit_balance + $1, updated_at = NOW()
		WHERE id = $2 AND credit_balance + $1 >= 0
		RETURNING credit_balance`,
		delta, accountID).Scan(&newBalance)

	if err == sql.ErrNoRows {
		// The guard rejected the update: either the account is missing or
		// the delta would overdraw it.
		var exists bool
		if err := q.QueryRow(`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("failed to adjust balance: %w", err)
		}
		if !exists {
			return 0, ErrAccountNotFound
		}
		return 0, ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}

	return newBalance, nil
}

// DebitClamped debits up to cost from an account, flooring the balance at
// zero. Only the debit guard's post-call race path uses this; a short debit
// indicates the metered call went out without full cover.
func (s *LedgerService) DebitClamped(accountID string, cost int64) (int64, error) {
	var newBalance int64
	err := s.db.QueryRow(`
		UPDATE accounts
		SET credit_balance = GREATEST(credit_balance - $1, 0), updated_at = NOW()
		WHERE id = $2
		RETURNING credit_balance`,
		cost, accountID).Scan(&newBalance)

	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clamp balance: %w", err)
	}
	return newBalance, nil
}

// CreateTransaction persists a new unsettled credit purchase for a plan
// tier and returns the stored record.
func (s *LedgerService) CreateTransaction(accountID string, plan models.Plan) (*models.Transaction, error) {
	pricing, ok := plan.Pricing()
	if !ok {
		return nil, ErrUnknownPlan
	}

	tx := &models.Transaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Plan:      plan,
		Credits:   pricing.Credits,
		Amount:    pricing.Amount,
		CreatedAt: time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO transactions (id, account_id, plan, credits, amount, settled, gateway_order_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, '', $6)`,
		tx.ID, tx.AccountID, tx.Plan, tx.Credits, tx.Amount, tx.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return tx, nil
}

// SetGatewayOrderRef records the gateway's order reference against a
// transaction. The reference is write-once; a second write is rejected.
func (s *LedgerService) SetGatewayOrderRef(transactionID, orderRef string) error {
	result, err := s.db.Exec(`
		UPDATE transactions SET gateway_order_ref = $1
		WHERE id = $2 AND gateway_order_ref = ''`,
		orderRef, transactionID)
	if err != nil {
		return fmt.Errorf("failed to set order ref: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("order ref already set for transaction %s", transactionID)
	}
	return nil
}

// GetTransaction loads a transaction by ID.
func (s *LedgerService) GetTransaction(transactionID string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	err := s.db.QueryRow(`
		SELECT id, account_id, plan, credits, amount, settled, gateway_order_ref, created_at, settled_at
		FROM transactions WHERE id = $1`,
		transactionID).Scan(
		&tx.ID, &tx.AccountID, &tx.Plan, &tx.Credits, &tx.Amount,
		&tx.Settled, &tx.GatewayOrderRef, &tx.CreatedAt, &tx.SettledAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return tx, nil
}

// MarkSettled transitions settled false->true as one conditional update.
// Returns false without error when the transaction is already settled;
// that is the idempotence guard two concurrent confirmations race on.
func (s *LedgerService) MarkSettled(transactionID string) (bool, error) {
	return s.markSettled(s.db, transactionID)
}

// MarkSettledTx is MarkSettled inside a caller-owned transaction.
func (s *LedgerService) MarkSettledTx(tx *sql.Tx, transactionID string) (bool, error) {
	return s.markSettled(tx, transactionID)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *LedgerService) markSettled(e execer, transactionID string) (bool, error) {
	result, err := e.Exec(`
		UPDATE transactions SET settled = TRUE, settled_at = NOW()
		WHERE id = $1 AND settled = FALSE`,
		transactionID)
	if err != nil {
		return false, fmt.Errorf("failed to settle transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}

	// No transition happened: already settled, or the transaction does not
	// exist at all.
	var settled bool
	err = e.QueryRow(`SELECT settled FROM transactions WHERE id = $1`, transactionID).Scan(&settled)
	if err == sql.ErrNoRows {
		return false, ErrTransactionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to settle transaction: %w", err)
	}

	log.Printf("[LEDGER] Transaction %s already settled, skipping", transactionID)
	return false, nil
}

// ListTransactions returns an account's purchase history, newest first.
func (s *LedgerService) ListTransactions(accountID string, limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, plan, credits, amount, settled, gateway_order_ref, created_at, settled_at
		FROM transactions WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.Plan, &tx.Credits, &tx.Amount,
			&tx.Settled, &tx.GatewayOrderRef, &tx.CreatedAt, &tx.SettledAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}
