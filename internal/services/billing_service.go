package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/imagely/backend/internal/gateway"
	"github.com/imagely/backend/internal/models"
)

// BillingService issues credit purchase orders against the payment gateway
// and reconciles their payment status back into the ledger. Reconciliation
// is idempotent: confirming the same order any number of times credits the
// account exactly once.
type BillingService struct {
	db        *sql.DB
	ledger    *LedgerService
	gateway   gateway.OrdersAPI
	currency  string
	validator *ValidationHelper
}

func NewBillingService(db *sql.DB, ledger *LedgerService, orders gateway.OrdersAPI, currency string) *BillingService {
	return &BillingService{
		db:        db,
		ledger:    ledger,
		gateway:   orders,
		currency:  currency,
		validator: NewValidationHelper(),
	}
}

// ConfirmResult reports the outcome of one reconciliation attempt.
// AlreadySettled marks the replay path: the payment was real but a prior
// confirmation already credited it.
type ConfirmResult struct {
	Credited       bool
	AlreadySettled bool
	NewBalance     int64
}

// CreateOrder records an unsettled transaction for a plan tier and
// registers a matching payable order with the gateway, using the
// transaction ID as the receipt key. No balance changes here.
func (s *BillingService) CreateOrder(ctx context.Context, accountID string, plan models.Plan) (*models.Transaction, *gateway.Order, error) {
	// Reject unknown accounts before touching the gateway.
	if _, err := s.ledger.GetBalance(accountID); err != nil {
		return nil, nil, err
	}

	tx, err := s.ledger.CreateTransaction(accountID, plan)
	if err != nil {
		return nil, nil, err
	}

	// Gateway amounts are in the currency's minor unit.
	order, err := s.gateway.CreateOrder(ctx, tx.Amount*100, s.currency, tx.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway order creation failed: %w", err)
	}

	if err := s.ledger.SetGatewayOrderRef(tx.ID, order.ID); err != nil {
		// The order exists and is payable; reconciliation resolves through
		// the receipt key, so a failed ref write is not fatal.
		log.Printf("[BILLING] Failed to record order ref %s on transaction %s: %v", order.ID, tx.ID, err)
	}
	tx.GatewayOrderRef = order.ID

	log.Printf("[BILLING] Created order %s for transaction %s (plan %s, %d credits)", order.ID, tx.ID, plan, tx.Credits)
	return tx, order, nil
}

// Confirm fetches the authoritative order status from the gateway and, for
// a paid order, settles the transaction and credits the account. The settle
// transition and the credit commit in one database transaction, and the
// settle is a conditional single-row update, so two concurrent confirms for
// the same order can never both credit.
func (s *BillingService) Confirm(ctx context.Context, orderRef string) (*ConfirmResult, error) {
	order, err := s.gateway.FetchOrder(ctx, orderRef)
	if err != nil {
		if errors.Is(err, gateway.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderRef, err)
	}

	if order.Status != gateway.StatusPaid {
		log.Printf("[BILLING] Order %s not paid (status %q), nothing to credit", orderRef, order.Status)
		return &ConfirmResult{Credited: false}, nil
	}

	// The receipt key carries our transaction ID. A paid order with no
	// matching transaction is a data-consistency fault, not a retry case.
	tx, err := s.ledger.GetTransaction(order.Receipt)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			log.Printf("[BILLING] ALERT: paid order %s references missing transaction %s", orderRef, order.Receipt)
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin settlement transaction: %w", err)
	}
	defer dbTx.Rollback()

	settled, err := s.ledger.MarkSettledTx(dbTx, tx.ID)
	if err != nil {
		return nil, err
	}
	if !settled {
		log.Printf("[BILLING] Order %s for transaction %s already settled, skipping credit", orderRef, tx.ID)
		return &ConfirmResult{Credited: false, AlreadySettled: true}, nil
	}

	newBalance, err := s.ledger.AdjustBalanceTx(dbTx, tx.AccountID, tx.Credits)
	if err != nil {
		// Rolling back also reverts the settle flag, so a retry can credit.
		return nil, fmt.Errorf("failed to credit account %s: %w", tx.AccountID, err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	log.Printf("[BILLING] Credited %d credits to account %s for order %s", tx.Credits, tx.AccountID, orderRef)
	return &ConfirmResult{Credited: true, NewBalance: newBalance}, nil
}

type createOrderRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

// CreateOrderHandler creates a payment order for a credit plan
// @Summary Create a credit purchase order
// @Description Create a payment gateway order for a credit plan tier
// @Tags payments
// @Accept json
// @Produce json
// @Param request body createOrderRequest true "Order request"
// @Success 200 {object} map[string]interface{} "Order created"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payments/order [post]
func (s *BillingService) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := resolveAccountID(s.db, r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createOrderRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	plan, err := models.ParsePlan(req.PlanID)
	if err != nil {
		SendErrorResponse(w, "Plan not found", http.StatusBadRequest, nil)
		return
	}

	tx, order, err := s.CreateOrder(r.Context(), accountID, plan)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	case errors.Is(err, ErrUnknownPlan):
		SendErrorResponse(w, "Plan not found", http.StatusBadRequest, nil)
		return
	case err != nil:
		log.Printf("[BILLING] Order creation failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"transactionId": tx.ID,
		"order":         order,
	})
}

type confirmOrderRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

// ConfirmOrder verifies payment for an order and credits the account
// @Summary Confirm a payment
// @Description Verify an order's payment status with the gateway and apply credits exactly once
// @Tags payments
// @Accept json
// @Produce json
// @Param request body confirmOrderRequest true "Confirmation request"
// @Success 200 {object} map[string]interface{} "Confirmation result"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /payments/confirm [post]
func (s *BillingService) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req confirmOrderRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.Confirm(r.Context(), req.OrderID)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		return
	case errors.Is(err, ErrTransactionNotFound):
		SendErrorResponse(w, "Transaction not found", http.StatusInternalServerError, nil)
		return
	case err != nil:
		log.Printf("[BILLING] Confirmation failed for order %s: %v", req.OrderID, err)
		SendErrorResponse(w, "Failed to confirm payment", http.StatusInternalServerError, nil)
		return
	}

	if !result.Credited {
		message := "Payment not completed"
		if result.AlreadySettled {
			message = "Payment already processed"
		}
		SendJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": message,
		})
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Credits added successfully",
		"credits": result.NewBalance,
	})
}

// ListOrders returns the authenticated user's purchase history
// @Summary List credit purchases
// @Description List the authenticated user's credit purchase transactions
// @Tags payments
// @Produce json
// @Success 200 {object} map[string]interface{} "Purchase history"
// @Failure 401 {object} ErrorResponse
// @Router /payments/orders [get]
func (s *BillingService) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID, err := resolveAccountID(s.db, r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	transactions, err := s.ledger.ListTransactions(accountID, 50)
	if err != nil {
		log.Printf("[BILLING] Failed to list transactions for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": transactions,
		"count":        len(transactions),
	})
}
