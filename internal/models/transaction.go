package models

import (
	"time"
)

// Transaction is one credit purchase. It is created unsettled by the order
// issuer and flipped to settled exactly once by the payment reconciler;
// GatewayOrderRef is written at order creation and immutable afterwards.
type Transaction struct {
	ID              string     `json:"transaction_id" db:"id"`
	AccountID       string     `json:"account_id" db:"account_id"`
	Plan            Plan       `json:"plan" db:"plan"`
	Credits         int64      `json:"credits" db:"credits"`
	Amount          int64      `json:"amount" db:"amount"`
	Settled         bool       `json:"settled" db:"settled"`
	GatewayOrderRef string     `json:"gateway_order_ref" db:"gateway_order_ref"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	SettledAt       *time.Time `json:"settled_at" db:"settled_at"`
}
