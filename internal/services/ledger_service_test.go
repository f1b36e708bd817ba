package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/imagely/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestLedgerService_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT credit_balance FROM accounts WHERE id = \\$1").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(42))

		balance, err := service.GetBalance("acct1")
		assert.NoError(t, err)
		assert.Equal(t, int64(42), balance)
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT credit_balance FROM accounts WHERE id = \\$1").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetBalance("ghost")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestLedgerService_AdjustBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("credit succeeds", func(t *testing.T) {
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(100), "acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(142))

		newBalance, err := service.AdjustBalance("acct1", 100)
		assert.NoError(t, err)
		assert.Equal(t, int64(142), newBalance)
	})

	t.Run("debit succeeds", func(t *testing.T) {
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(-1), "acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(0))

		newBalance, err := service.AdjustBalance("acct1", -1)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), newBalance)
	})

	t.Run("overdraw rejected", func(t *testing.T) {
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(-5), "acct1").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := service.AdjustBalance("acct1", -5)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(-5), "ghost").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := service.AdjustBalance("ghost", -5)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestLedgerService_DebitClamped(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("clamps at zero", func(t *testing.T) {
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(1), "acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(0))

		newBalance, err := service.DebitClamped("acct1", 1)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), newBalance)
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(1), "ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.DebitClamped("ghost", 1)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestLedgerService_CreateTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("basic plan", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "acct1", models.PlanBasic, int64(100), int64(10), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		tx, err := service.CreateTransaction("acct1", models.PlanBasic)
		assert.NoError(t, err)
		assert.NotEmpty(t, tx.ID)
		assert.Equal(t, int64(100), tx.Credits)
		assert.Equal(t, int64(10), tx.Amount)
		assert.False(t, tx.Settled)
	})

	t.Run("unknown plan never touches storage", func(t *testing.T) {
		_, err := service.CreateTransaction("acct1", models.Plan("Platinum"))
		assert.ErrorIs(t, err, ErrUnknownPlan)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_MarkSettled(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("first settlement transitions", func(t *testing.T) {
		mock.ExpectExec("UPDATE transactions SET settled = TRUE").
			WithArgs("tx1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		settled, err := service.MarkSettled("tx1")
		assert.NoError(t, err)
		assert.True(t, settled)
	})

	t.Run("second settlement is a no-op", func(t *testing.T) {
		mock.ExpectExec("UPDATE transactions SET settled = TRUE").
			WithArgs("tx1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT settled FROM transactions").
			WithArgs("tx1").
			WillReturnRows(sqlmock.NewRows([]string{"settled"}).AddRow(true))

		settled, err := service.MarkSettled("tx1")
		assert.NoError(t, err)
		assert.False(t, settled)
	})

	t.Run("missing transaction", func(t *testing.T) {
		mock.ExpectExec("UPDATE transactions SET settled = TRUE").
			WithArgs("ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT settled FROM transactions").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.MarkSettled("ghost")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})
}

func TestLedgerService_GetTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("existing transaction", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, account_id, plan, credits, amount, settled, gateway_order_ref, created_at, settled_at").
			WithArgs("tx1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "plan", "credits", "amount", "settled", "gateway_order_ref", "created_at", "settled_at"}).
				AddRow("tx1", "acct1", "Basic", 100, 10, false, "order_1", time.Now(), nil))

		tx, err := service.GetTransaction("tx1")
		assert.NoError(t, err)
		assert.Equal(t, "acct1", tx.AccountID)
		assert.Equal(t, models.PlanBasic, tx.Plan)
		assert.Nil(t, tx.SettledAt)
	})

	t.Run("missing transaction", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, account_id, plan, credits, amount, settled, gateway_order_ref, created_at, settled_at").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetTransaction("ghost")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})
}
