package handler

import (
	"strings"

	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

// CreateRequest is the HTTP request body for POST /withdrawals.
type CreateRequest struct {
	Kind        string  `json:"kind"`
	Amount      float64 `json:"amount"`
	Token       string  `json:"token"`
	Destination string  `json:"destination"`
	Chain       string  `json:"chain"`

	parsedKind  id.WithdrawalKind
	parsedToken id.Token
}

func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	r.Destination = strings.TrimSpace(r.Destination)
	if r.Destination == "" {
		return dErrors.New(dErrors.CodeValidation, "destination is required")
	}
	if len(r.Destination) > 256 {
		return dErrors.New(dErrors.CodeValidation, "destination must be at most 256 characters")
	}

	kind, err := id.ParseWithdrawalKind(r.Kind)
	if err != nil {
		return err
	}
	r.parsedKind = kind

	token, err := id.ParseToken(r.Token)
	if err != nil {
		return err
	}
	r.parsedToken = token

	if kind == id.WithdrawalWallet && strings.TrimSpace(r.Chain) == "" {
		return dErrors.New(dErrors.CodeValidation, "chain is required for wallet withdrawals")
	}
	return nil
}

func (r *CreateRequest) ParsedKind() id.WithdrawalKind { return r.parsedKind }
func (r *CreateRequest) ParsedToken() id.Token         { return r.parsedToken }

// EstimateRequest is the HTTP request body for POST /withdrawals/estimate.
type EstimateRequest struct {
	Kind   string  `json:"kind"`
	Amount float64 `json:"amount"`
	Token  string  `json:"token"`
	Chain  string  `json:"chain"`

	parsedKind  id.WithdrawalKind
	parsedToken id.Token
}

func (r *EstimateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}

	kind, err := id.ParseWithdrawalKind(r.Kind)
	if err != nil {
		return err
	}
	r.parsedKind = kind

	token, err := id.ParseToken(r.Token)
	if err != nil {
		return err
	}
	r.parsedToken = token
	return nil
}

func (r *EstimateRequest) ParsedKind() id.WithdrawalKind { return r.parsedKind }
func (r *EstimateRequest) ParsedToken() id.Token         { return r.parsedToken }
