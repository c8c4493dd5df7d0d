package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const (
	defaultRetryAttempts        = 3
	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxInterval     = 10 * time.Second
)

// StatusError is returned when a backend answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s request failed: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed with status %d", e.Provider, e.StatusCode)
}

// Temporary reports whether the request may succeed if sent again.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// RetryConfig controls how failed requests are resent. Zero values fall back
// to the package defaults.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultRetryAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = defaultRetryInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = defaultRetryMaxInterval
	}
	return c
}

type transport struct {
	provider   string
	httpClient *http.Client
	retry      RetryConfig
}

func newTransport(provider string, client *http.Client, retry RetryConfig) *transport {
	if client == nil {
		client = &http.Client{}
	}
	return &transport{
		provider:   provider,
		httpClient: client,
		retry:      retry.withDefaults(),
	}
}

// post sends payload as JSON and returns the response once a 2xx status has
// been received. The caller owns the response body.
func (t *transport) post(ctx context.Context, endpoint string, header http.Header, payload any) (*http.Response, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.retry.InitialInterval
	policy.MaxInterval = t.retry.MaxInterval

	logger := zerolog.Ctx(ctx)
	attempt := 0
	return backoff.Retry(ctx, func() (*http.Response, error) {
		attempt++
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		for key, values := range header {
			httpReq.Header[key] = values
		}
		httpReq.Header.Set("Content-Type", "application/json")

		logger.Debug().Str("provider", t.provider).Int("attempt", attempt).Msg("sending request")
		httpResp, err := t.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(fmt.Errorf("%s request: %w", t.provider, err))
			}
			return nil, fmt.Errorf("%s request: %w", t.provider, err)
		}
		if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
			defer httpResp.Body.Close()
			statusErr := readStatusError(t.provider, httpResp.Body, httpResp.StatusCode)
			if !statusErr.Temporary() {
				return nil, backoff.Permanent(statusErr)
			}
			return nil, statusErr
		}
		return httpResp, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(t.retry.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn().Err(err).Str("provider", t.provider).Dur("retry_in", wait).Msg("request failed, retrying")
		}),
	)
}

func (t *transport) postJSON(ctx context.Context, endpoint string, header http.Header, payload, out any) error {
	httpResp, err := t.post(ctx, endpoint, header, payload)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readStatusError extracts the vendor error message. OpenAI, Azure, Anthropic
// and Gemini nest it under error.message; Hugging Face sends error as a string.
func readStatusError(provider string, body io.Reader, status int) *StatusError {
	statusErr := &StatusError{Provider: provider, StatusCode: status}
	var resp struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil || len(resp.Error) == 0 {
		return statusErr
	}
	statusErr.Message = apiErrorMessage(resp.Error)
	return statusErr
}

func apiErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}

// sseEvent is one server-sent event; multi-line data is joined with newlines.
type sseEvent struct {
	Event string
	Data  string
}

type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(body io.Reader) *sseReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: scanner}
}

// next returns io.EOF once the stream is exhausted.
func (r *sseReader) next() (sseEvent, error) {
	var event sseEvent
	var hasData bool
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			if hasData {
				return event, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			if hasData {
				event.Data += "\n" + value
			} else {
				event.Data = value
				hasData = true
			}
		case "event":
			event.Event = value
		}
	}
	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, fmt.Errorf("read stream: %w", err)
	}
	if hasData {
		return event, nil
	}
	return sseEvent{}, io.EOF
}

// readEvents feeds each data payload to fn until the stream ends, fn returns
// errStopStream, or the OpenAI-style [DONE] sentinel arrives.
func readEvents(body io.Reader, fn func(event sseEvent) error) error {
	reader := newSSEReader(body)
	for {
		event, err := reader.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		data := strings.TrimSpace(event.Data)
		if data == "[DONE]" {
			return nil
		}
		if data == "" {
			continue
		}
		event.Data = data
		if err := fn(event); err != nil {
			if errors.Is(err, errStopStream) {
				return nil
			}
			return err
		}
	}
}

var errStopStream = errors.New("stop stream")
