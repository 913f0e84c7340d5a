package app

import (
	"fmt"
	"net/http"

	"huddle/api/internal/policy"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// rejectionError carries a policy rejection to the client. The stable
// reason slug rides in details so clients can branch without parsing
// the human message.
func rejectionError(rejection *policy.Rejection) *DomainError {
	return domainError(http.StatusForbidden, "POLICY_REJECTED", rejection.Message, map[string]any{
		"reason": rejection.Reason,
	})
}
