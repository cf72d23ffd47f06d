/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound                 ErrorCode = "NOT_FOUND"
	ErrConflict                 ErrorCode = "CONFLICT"
	ErrBadRequest               ErrorCode = "BAD_REQUEST"
	ErrInvalidInput             ErrorCode = "INVALID_INPUT"
	ErrUnauthorized             ErrorCode = "UNAUTHORIZED"
	ErrForbidden                ErrorCode = "FORBIDDEN"
	ErrComplianceBlocked        ErrorCode = "COMPLIANCE_BLOCKED"
	ErrInvalidState             ErrorCode = "INVALID_STATE"
	ErrCrossOrgBatch            ErrorCode = "CROSS_ORG_BATCH"
	ErrPrivacyPolicyViolation   ErrorCode = "PRIVACY_POLICY_VIOLATION"
	ErrPartialValidationFailure ErrorCode = "PARTIAL_VALIDATION_FAILURE"
	ErrExternalUnavailable      ErrorCode = "EXTERNAL_UNAVAILABLE"
	ErrTimeout                  ErrorCode = "TIMEOUT"
	ErrInternalServer           ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.WithField("code", code).Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf returns the error code carried by err, or ErrInternalServer when err is
// not an APIError.
func CodeOf(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrInternalServer
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

func MapErrorToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrInvalidState:
		return http.StatusConflict
	case ErrInvalidInput, ErrBadRequest, ErrCrossOrgBatch:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden, ErrComplianceBlocked, ErrPrivacyPolicyViolation:
		return http.StatusForbidden
	case ErrPartialValidationFailure:
		return http.StatusUnprocessableEntity
	case ErrExternalUnavailable:
		return http.StatusServiceUnavailable
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
