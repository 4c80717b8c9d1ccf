package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dukerupert/cartsync/internal/domain"
)

// APIError is a non-success response from the cart API.
type APIError struct {
	Op     string
	Status int
	// Detail is the server's human-readable reason, if it sent one.
	Detail string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("cart api %s: %s", e.Op, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("cart api %s: status %d: %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("cart api %s: status %d", e.Op, e.Status)
}

// AsAPIError extracts the APIError from err, if any.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// codeForStatus maps an HTTP status to a domain error code.
func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return domain.EINVALID
	case status == http.StatusUnauthorized:
		return domain.EUNAUTHORIZED
	case status == http.StatusForbidden:
		return domain.EFORBIDDEN
	case status == http.StatusNotFound:
		return domain.ENOTFOUND
	case status == http.StatusConflict:
		return domain.ECONFLICT
	case status == http.StatusTooManyRequests:
		return domain.ERATELIMIT
	case status == http.StatusGone:
		return domain.EGONE
	case status >= 400 && status < 500:
		return domain.EINVALID
	default:
		return domain.EUNAVAILABLE
	}
}

// newFailure wraps an APIError in a domain error. The domain message is the
// server detail verbatim, or empty so callers can pick their own fallback.
func newFailure(op string, status int, detail string) error {
	return &domain.Error{
		Code:    codeForStatus(status),
		Op:      "cart_api." + op,
		Message: detail,
		Err:     &APIError{Op: op, Status: status, Detail: detail},
	}
}

func transportFailure(op string, err error) error {
	return &domain.Error{
		Code: domain.EUNAVAILABLE,
		Op:   "cart_api." + op,
		Err:  &APIError{Op: op, Detail: err.Error()},
	}
}

// errorBody covers the error shapes the cart API is known to send:
//
//	{"detail": "Coupon expired"}
//	{"detail": [{"loc": [...], "msg": "value is not a valid integer"}]}
//	{"message": "Cart not found"}
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// extractDetail returns the human-readable reason from an error body, or "".
func extractDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}

	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil && s != "" {
			return s
		}
		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(eb.Detail, &list); err == nil {
			for _, item := range list {
				if item.Msg != "" {
					return item.Msg
				}
			}
		}
	}

	return eb.Message
}
