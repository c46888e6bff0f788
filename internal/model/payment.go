package model

import "github.com/shopspring/decimal"

// AuthorizePaymentRequest places a hold on the customer's card before a
// booking or reschedule top-up is submitted.
type AuthorizePaymentRequest struct {
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	CustomerToken string          `json:"customer_token" binding:"required,max=255"`
}

type AuthorizePaymentResponse struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
}
