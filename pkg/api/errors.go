package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/arise/pkg/domain"
)

// CorrelationIDHeader is echoed by the backend on every response.
const CorrelationIDHeader = "X-Correlation-ID"

// errorResponse is the backend's error body.
type errorResponse struct {
	ErrorCode     string `json:"errorCode"`
	Message       string `json:"message"`
	Source        string `json:"source"`
	CorrelationID string `json:"correlationId"`
}

// parseErrorResponse maps a non-2xx response onto the SDK error taxonomy.
// The body is optional; the status code alone decides the kind.
func parseErrorResponse(resp *http.Response, body []byte) error {
	info := &domain.ErrorInfo{
		StatusCode:    resp.StatusCode,
		CorrelationID: resp.Header.Get(CorrelationIDHeader),
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		info.ErrorCode = errResp.ErrorCode
		info.Source = errResp.Source
		if errResp.CorrelationID != "" {
			info.CorrelationID = errResp.CorrelationID
		}
	}

	message := errResp.Message
	if message == "" {
		message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.NewAuthenticationError(message, info)
	case resp.StatusCode == http.StatusBadRequest:
		return domain.NewAPIError(domain.APIBadRequest, message, info)
	case resp.StatusCode == http.StatusForbidden:
		return domain.NewAPIError(domain.APIForbidden, message, info)
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewAPIError(domain.APINotFound, message, info)
	case resp.StatusCode >= 500:
		return domain.NewAPIError(domain.APIServerError, message, info)
	default:
		return domain.NewAPIError(domain.APIUnknown, message, info)
	}
}
