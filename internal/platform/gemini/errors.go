package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/scenegen/internal/generation"
	"google.golang.org/genai"
)

// ErrNilModels is returned when a constructor receives no genai models client.
var ErrNilModels = errors.New("gemini models client cannot be nil")

// asAPIError extracts a genai.APIError in either its value or pointer form.
func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

// mapError turns a failed API call into a ProviderError. The message keeps the
// provider's words and adds the markers the batch classifier keys on for
// throttling and credential failures, which the API reports through status
// codes rather than text.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &generation.ProviderError{Message: "provider request timed out", Err: err}
	}

	apiErr, ok := asAPIError(err)
	if !ok {
		return &generation.ProviderError{Message: err.Error(), Err: err}
	}

	msg := apiErr.Message
	lower := strings.ToLower(msg)
	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
		return &generation.ProviderError{
			Code:    apiErr.Code,
			Message: fmt.Sprintf("429 too many requests: %s", msg),
			Err:     err,
		}
	case apiErr.Code == http.StatusUnauthorized,
		apiErr.Code == http.StatusForbidden,
		apiErr.Status == "UNAUTHENTICATED",
		apiErr.Status == "PERMISSION_DENIED",
		strings.Contains(lower, "api key not valid"),
		strings.Contains(lower, "api key expired"):
		return &generation.ProviderError{
			Code:    apiErr.Code,
			Message: fmt.Sprintf("session expired: provider rejected credentials: %s", msg),
			Err:     err,
		}
	default:
		return &generation.ProviderError{
			Code:    apiErr.Code,
			Message: fmt.Sprintf("provider error %d %s: %s", apiErr.Code, apiErr.Status, msg),
			Err:     err,
		}
	}
}
