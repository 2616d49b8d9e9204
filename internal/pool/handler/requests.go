package handler

import (
	"strings"
	"time"

	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

// CreateRequest is the HTTP request body for POST /pools.
type CreateRequest struct {
	Token       string  `json:"token"`
	TotalAmount float64 `json:"total_amount"`
	TotalShares int     `json:"total_shares"`
	ExpiresAt   string  `json:"expires_at"`

	parsedToken     id.Token
	parsedExpiresAt time.Time
}

func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.TotalAmount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "total_amount must be positive")
	}
	if r.TotalShares < 1 {
		return dErrors.New(dErrors.CodeValidation, "total_shares must be at least 1")
	}

	token, err := id.ParseToken(r.Token)
	if err != nil {
		return err
	}
	r.parsedToken = token

	expiresAt, err := time.Parse(time.RFC3339, r.ExpiresAt)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "expires_at must be an RFC 3339 timestamp")
	}
	r.parsedExpiresAt = expiresAt
	return nil
}

func (r *CreateRequest) ParsedToken() id.Token      { return r.parsedToken }
func (r *CreateRequest) ParsedExpiresAt() time.Time { return r.parsedExpiresAt }

// ClaimRequest is the HTTP request body for POST /pools/{poolID}/claims.
type ClaimRequest struct {
	Platform    string `json:"platform"`
	PlatformID  string `json:"platform_id"`
	DisplayName string `json:"display_name"`

	parsedPlatform id.Platform
}

func (r *ClaimRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.PlatformID = strings.TrimSpace(r.PlatformID)
	if r.PlatformID == "" {
		return dErrors.New(dErrors.CodeValidation, "platform_id is required")
	}
	if len(r.PlatformID) > 128 {
		return dErrors.New(dErrors.CodeValidation, "platform_id must be at most 128 characters")
	}

	platform, err := id.ParsePlatform(r.Platform)
	if err != nil {
		return err
	}
	r.parsedPlatform = platform
	return nil
}

func (r *ClaimRequest) ParsedPlatform() id.Platform { return r.parsedPlatform }

// ClaimResponse is the HTTP response body for a granted claim.
type ClaimResponse struct {
	PoolID    id.PoolID    `json:"pool_id"`
	AccountID id.AccountID `json:"account_id"`
	Amount    float64      `json:"amount"`
}
