package handler

import (
	"strings"

	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

// ResolveRequest is the HTTP request body for POST /accounts/resolve.
type ResolveRequest struct {
	Platform    string `json:"platform"`
	PlatformID  string `json:"platform_id"`
	DisplayName string `json:"display_name"`

	parsedPlatform id.Platform
}

func (r *ResolveRequest) Validate() error {
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
	if len(r.DisplayName) > 256 {
		return dErrors.New(dErrors.CodeValidation, "display_name must be at most 256 characters")
	}

	platform, err := id.ParsePlatform(r.Platform)
	if err != nil {
		return err
	}
	r.parsedPlatform = platform
	return nil
}

func (r *ResolveRequest) ParsedPlatform() id.Platform { return r.parsedPlatform }

// LinkRequest is the HTTP request body for POST /accounts/{accountID}/identities.
type LinkRequest struct {
	Platform    string `json:"platform"`
	PlatformID  string `json:"platform_id"`
	DisplayName string `json:"display_name"`

	parsedPlatform id.Platform
}

func (r *LinkRequest) Validate() error {
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

func (r *LinkRequest) ParsedPlatform() id.Platform { return r.parsedPlatform }
