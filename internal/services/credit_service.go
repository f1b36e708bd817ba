package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/imagely/backend/internal/provider"
)

// CreditService is the debit guard: it gates the metered image provider
// behind a funds check and commits the spend only after the provider call
// succeeds. It is the sole component allowed to decrement balances.
type CreditService struct {
	db        *sql.DB
	ledger    *LedgerService
	provider  provider.TextToImage
	validator *ValidationHelper
}

// SpendCost is the price of one generation call in credits.
const SpendCost = 1

func NewCreditService(db *sql.DB, ledger *LedgerService, textToImage provider.TextToImage) *CreditService {
	return &CreditService{
		db:        db,
		ledger:    ledger,
		provider:  textToImage,
		validator: NewValidationHelper(),
	}
}

// Spend runs one metered call for an account and debits cost credits on
// success. The provider is never invoked without cover, and a failed or
// timed-out provider call never debits.
//
// The debit lands after the provider call, so a concurrent drain can race
// the balance below cost between the check and the commit. When that
// happens the provider result is still returned, the balance clamps at
// zero, and the shortfall is logged for manual reconciliation. Reserving
// the credit before the call would close that window; see DESIGN.md.
func (s *CreditService) Spend(ctx context.Context, accountID string, cost int64, call func(context.Context) ([]byte, error)) ([]byte, int64, error) {
	balance, err := s.ledger.GetBalance(accountID)
	if err != nil {
		return nil, 0, err
	}

	if balance < cost {
		return nil, balance, ErrInsufficientFunds
	}

	result, err := call(ctx)
	if err != nil {
		return nil, balance, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	newBalance, err := s.ledger.AdjustBalance(accountID, -cost)
	if err != nil {
		// The metered call already went out; the account no longer covers
		// it. Do not fail the caller: clamp at zero and flag the shortfall.
		log.Printf("[CREDIT] Inconsistency: account %s debit of %d failed after provider call: %v; clamping for manual reconciliation", accountID, cost, err)
		newBalance, err = s.ledger.DebitClamped(accountID, cost)
		if err != nil {
			log.Printf("[CREDIT] Failed to clamp balance for account %s: %v", accountID, err)
			newBalance = 0
		}
	}

	return result, newBalance, nil
}

type generateRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=1000"`
}

// GenerateImage renders a prompt for the authenticated user, spending one
// credit on success
// @Summary Generate an image
// @Description Generate an image from a text prompt, spending one credit
// @Tags images
// @Accept json
// @Produce json
// @Param request body generateRequest true "Generation request"
// @Success 200 {object} map[string]interface{} "Image generated"
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} map[string]interface{} "No credit balance"
// @Failure 502 {object} ErrorResponse
// @Router /images/generate [post]
func (s *CreditService) GenerateImage(w http.ResponseWriter, r *http.Request) {
	accountID, err := s.accountForRequest(r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req generateRequest
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

	image, newBalance, err := s.Spend(r.Context(), accountID, SpendCost, func(ctx context.Context) ([]byte, error) {
		return s.provider.Generate(ctx, req.Prompt)
	})

	switch {
	case errors.Is(err, ErrInsufficientFunds):
		log.Printf("[CREDIT] Account %s has no credit balance", accountID)
		SendJSON(w, http.StatusOK, map[string]any{
			"success":       false,
			"message":       "No Credit Balance",
			"creditBalance": newBalance,
		})
		return
	case errors.Is(err, ErrAccountNotFound):
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	case errors.Is(err, ErrProviderFailed):
		log.Printf("[CREDIT] Provider call failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Image generation failed", http.StatusBadGateway, nil)
		return
	case err != nil:
		log.Printf("[CREDIT] Spend failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to generate image", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "Image Generated",
		"creditBalance": newBalance,
		"resultImage":   "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
	})
}

// GetBalance returns the authenticated user's credit balance
// @Summary Get credit balance
// @Description Get the authenticated user's current credit balance
// @Tags credits
// @Produce json
// @Success 200 {object} map[string]interface{} "Current balance"
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /credits/balance [get]
func (s *CreditService) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := s.accountForRequest(r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.ledger.GetBalance(accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[CREDIT] Balance lookup failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"credits": balance,
	})
}

func (s *CreditService) accountForRequest(r *http.Request) (string, error) {
	return resolveAccountID(s.db, r)
}

// resolveAccountID maps the authenticated user in the request context to
// the credit account they own.
func resolveAccountID(db *sql.DB, r *http.Request) (string, error) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		return "", errors.New("no user in context")
	}

	var accountID string
	err := db.QueryRow(`SELECT account_id FROM users WHERE id = $1::integer`, userID).Scan(&accountID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve account for user %s: %w", userID, err)
	}
	return accountID, nil
}
