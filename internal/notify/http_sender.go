package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSender publica cada evento con un POST JSON.
type HTTPSender struct {
	url    string
	token  string
	client *http.Client
}

// NewSender devuelve un HTTPSender o, sin URL, un sender deshabilitado.
func NewSender(url, token string, timeout time.Duration) Sender {
	if strings.TrimSpace(url) == "" {
		return NewDisabledSender()
	}
	return NewHTTPSender(url, token, timeout)
}

func NewHTTPSender(url, token string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSender{
		url:    strings.TrimSpace(url),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSender) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify http error: status=%d", resp.StatusCode)
	}
	return nil
}
