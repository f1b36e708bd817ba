package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestCreditService_Spend(t *testing.T) {
	t.Run("zero balance never invokes provider", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		textToImage := &MockTextToImage{}
		service := NewCreditService(db, NewLedgerService(db), textToImage)

		dbMock.ExpectQuery("SELECT credit_balance FROM accounts").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(0))

		_, balance, err := service.Spend(context.Background(), "acct1", SpendCost, func(ctx context.Context) ([]byte, error) {
			return textToImage.Generate(ctx, "a cat")
		})

		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, int64(0), balance)
		textToImage.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("provider failure leaves balance unchanged", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		textToImage := &MockTextToImage{}
		textToImage.On("Generate", mock.Anything, "a cat").Return(nil, errors.New("upstream 500"))
		service := NewCreditService(db, NewLedgerService(db), textToImage)

		dbMock.ExpectQuery("SELECT credit_balance FROM accounts").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(5))

		_, _, err = service.Spend(context.Background(), "acct1", SpendCost, func(ctx context.Context) ([]byte, error) {
			return textToImage.Generate(ctx, "a cat")
		})

		assert.ErrorIs(t, err, ErrProviderFailed)
		// No debit expectation was registered; a stray UPDATE would fail here.
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("success debits one credit", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		textToImage := &MockTextToImage{}
		textToImage.On("Generate", mock.Anything, "a cat").Return([]byte("png-bytes"), nil)
		service := NewCreditService(db, NewLedgerService(db), textToImage)

		dbMock.ExpectQuery("SELECT credit_balance FROM accounts").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(1))
		dbMock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(-1), "acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(0))

		result, balance, err := service.Spend(context.Background(), "acct1", SpendCost, func(ctx context.Context) ([]byte, error) {
			return textToImage.Generate(ctx, "a cat")
		})

		assert.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), result)
		assert.Equal(t, int64(0), balance)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("concurrent drain clamps balance and keeps result", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		textToImage := &MockTextToImage{}
		textToImage.On("Generate", mock.Anything, "a cat").Return([]byte("png-bytes"), nil)
		service := NewCreditService(db, NewLedgerService(db), textToImage)

		dbMock.ExpectQuery("SELECT credit_balance FROM accounts").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(1))

		// Another caller drained the account between the check and the debit.
		dbMock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(-1), "acct1").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectQuery("SELECT EXISTS").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		// Clamp path floors the balance at zero.
		dbMock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(1), "acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(0))

		result, balance, err := service.Spend(context.Background(), "acct1", SpendCost, func(ctx context.Context) ([]byte, error) {
			return textToImage.Generate(ctx, "a cat")
		})

		assert.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), result)
		assert.Equal(t, int64(0), balance)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestCreditService_GenerateImage(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	textToImage := &MockTextToImage{}
	service := NewCreditService(db, NewLedgerService(db), textToImage)

	authed := func(r *http.Request) *http.Request {
		return r.WithContext(context.WithValue(r.Context(), "userID", "1"))
	}

	t.Run("no credit balance", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT account_id FROM users").
			WithArgs("1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct1"))
		dbMock.ExpectQuery("SELECT credit_balance FROM accounts").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(0))

		body, _ := json.Marshal(map[string]string{"prompt": "a cat"})
		r := authed(httptest.NewRequest("POST", "/images/generate", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		service.GenerateImage(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, false, response["success"])
		assert.Equal(t, "No Credit Balance", response["message"])
		assert.Equal(t, float64(0), response["creditBalance"])
	})

	t.Run("successful generation returns data url", func(t *testing.T) {
		textToImage.On("Generate", mock.Anything, "a cat").Return([]byte{1, 2, 3}, nil).Once()

		dbMock.ExpectQuery("SELECT account_id FROM users").
			WithArgs("1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct1"))
		dbMock.ExpectQuery("SELECT credit_balance FROM accounts").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(3))
		dbMock.ExpectQuery("UPDATE accounts").
			WithArgs(int64(-1), "acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(2))

		body, _ := json.Marshal(map[string]string{"prompt": "a cat"})
		r := authed(httptest.NewRequest("POST", "/images/generate", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		service.GenerateImage(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, true, response["success"])
		assert.Equal(t, float64(2), response["creditBalance"])
		assert.Contains(t, response["resultImage"], "data:image/png;base64,")
	})

	t.Run("invalid request body", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT account_id FROM users").
			WithArgs("1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct1"))

		r := authed(httptest.NewRequest("POST", "/images/generate", bytes.NewBuffer([]byte("invalid"))))
		w := httptest.NewRecorder()

		service.GenerateImage(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"prompt": "a cat"})
		r := httptest.NewRequest("POST", "/images/generate", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.GenerateImage(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCreditService_GetBalance(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCreditService(db, NewLedgerService(db), &MockTextToImage{})

	t.Run("returns current credits", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT account_id FROM users").
			WithArgs("1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct1"))
		dbMock.ExpectQuery("SELECT credit_balance FROM accounts").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(25))

		r := httptest.NewRequest("GET", "/credits/balance", nil)
		r = r.WithContext(context.WithValue(r.Context(), "userID", "1"))
		w := httptest.NewRecorder()

		service.GetBalance(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, true, response["success"])
		assert.Equal(t, float64(25), response["credits"])
	})
}
