package models

import "time"

// Account holds a user's prepaid credit balance. The balance is only ever
// mutated through LedgerService's conditional updates and never goes
// negative.
type Account struct {
	ID            string    `json:"id" db:"id"`
	CreditBalance int64     `json:"creditBalance" db:"credit_balance"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
