package handler

import (
	"strings"

	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

// RequestBody is the HTTP request body for POST /merges.
type RequestBody struct {
	SourceID string `json:"source_id"`

	parsedSourceID id.AccountID
}

func (r *RequestBody) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	sourceID, err := id.ParseAccountID(strings.TrimSpace(r.SourceID))
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "source_id must be a valid account id")
	}
	r.parsedSourceID = sourceID
	return nil
}

func (r *RequestBody) ParsedSourceID() id.AccountID { return r.parsedSourceID }

// CompleteBody is the HTTP request body for POST /merges/{mergeID}/complete.
type CompleteBody struct {
	Code string `json:"code"`
}

func (r *CompleteBody) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Code = strings.TrimSpace(r.Code)
	if len(r.Code) != 6 {
		return dErrors.New(dErrors.CodeValidation, "code must be 6 digits")
	}
	return nil
}
