package payment

import (
	"time"

	"github.com/google/uuid"
)

// MethodType is the kind of a saved payment instrument.
type MethodType string

const (
	MethodCard          MethodType = "card"
	MethodBankAccount   MethodType = "bank_account"
	MethodDigitalWallet MethodType = "digital_wallet"
)

// Valid reports whether t is a known method type.
func (t MethodType) Valid() bool {
	switch t {
	case MethodCard, MethodBankAccount, MethodDigitalWallet:
		return true
	}
	return false
}

// CardInfo is the display data of a saved card.
type CardInfo struct {
	Last4    string `json:"last4"`
	Brand    string `json:"brand"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
}

// Method is a saved payment instrument. Methods are append-only.
type Method struct {
	ID         uuid.UUID
	CustomerID string
	Type       MethodType
	Provider   Provider
	TokenID    string
	Card       *CardInfo // only for MethodCard
	IsDefault  bool
	CreatedAt  time.Time
}

// NewMethod creates a saved method. Card info is dropped for non-card types.
func NewMethod(customerID string, t MethodType, provider Provider, tokenID string, card *CardInfo, isDefault bool) *Method {
	if t != MethodCard {
		card = nil
	}
	return &Method{
		ID:         uuid.New(),
		CustomerID: customerID,
		Type:       t,
		Provider:   provider,
		TokenID:    tokenID,
		Card:       card,
		IsDefault:  isDefault,
		CreatedAt:  time.Now(),
	}
}
