// Package narration synthesizes spoken narration through a remote speech API.
package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/reel-service/internal/core"
)

// API endpoints and paths.
const (
	apiSpeak = "/speak"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	maxErrorBodyBytes = 64 << 10
	maxAudioBytes     = 64 << 20
)

var (
	// ErrSpeechEmpty is returned for an empty speech field.
	ErrSpeechEmpty = errors.New("speech cannot be empty")
	// ErrEmptyAudio is returned when the API answers 200 without audio.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrAudioTooLarge is returned when the audio body exceeds the size limit.
	ErrAudioTooLarge = errors.New("audio data exceeds size limit")
	// ErrMissingCredentials is returned when the key or secret is empty.
	ErrMissingCredentials = errors.New("missing synthesis credentials")
)

// SpeakRequest is the JSON body of a speak call.
type SpeakRequest struct {
	Speech string `json:"speech"`
	Voice  string `json:"voice"`
}

// ErrorResponse is the structured error body the API returns on failure.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// StatusError reports a non-200 answer from the API.
type StatusError struct {
	StatusCode int
	Status     string
	Detail     string
	Code       string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("speech API error (%s): %s (code: %s)", e.Status, e.Detail, e.Code)
	}

	return fmt.Sprintf("speech API returned non-OK status: %s, body: %s", e.Status, e.Detail)
}

// HTTPClient talks to the speech API.
type HTTPClient struct {
	httpClient    *http.Client
	baseURL       string
	maxAudioBytes int64
}

// NewHTTPClient creates a client. The timeout applies to each request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		maxAudioBytes: maxAudioBytes,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Speak posts req and returns the raw audio bytes. Returned errors are wrapped in
// core.ErrSynthesisUnavailable or core.ErrSynthesisRejected.
func (c *HTTPClient) Speak(ctx context.Context, req SpeakRequest, creds core.Credentials) ([]byte, error) {
	if strings.TrimSpace(req.Speech) == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrSynthesisRejected, ErrSpeechEmpty)
	}

	if creds.Empty() {
		return nil, fmt.Errorf("%w: %w", core.ErrSynthesisUnavailable, ErrMissingCredentials)
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %w", core.ErrSynthesisRejected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSpeak, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", core.ErrSynthesisUnavailable, err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)
	httpReq.SetBasicAuth(creds.Key, creds.Secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request to %s: %w", core.ErrSynthesisUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := parseErrorResponse(resp)

		return nil, fmt.Errorf("%w: %w", classifyStatus(resp.StatusCode), statusErr)
	}

	audioData, err := io.ReadAll(io.LimitReader(resp.Body, c.maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio data: %w", core.ErrSynthesisUnavailable, err)
	}

	if int64(len(audioData)) > c.maxAudioBytes {
		return nil, fmt.Errorf("%w: %w: more than %d bytes", core.ErrSynthesisRejected, ErrAudioTooLarge, c.maxAudioBytes)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrSynthesisUnavailable, ErrEmptyAudio)
	}

	return audioData, nil
}

// classifyStatus maps auth, throttling, timeout and server errors to the retryable
// class. Every other status means the input was refused.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return core.ErrSynthesisUnavailable
	default:
		return core.ErrSynthesisRejected
	}
}

// parseErrorResponse decodes the structured error body, falling back to the raw text.
func parseErrorResponse(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		statusErr.Detail = errorResp.Detail
		statusErr.Code = errorResp.ErrorCode

		return statusErr
	}

	statusErr.Detail = strings.TrimSpace(string(body))

	return statusErr
}
