package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

// RegistrationClient fala com o sistema de registro externo via HTTP.
//
// Cada chamada passa antes pelo throttle do leilão (quando configurado) e
// respeita o deadline do ctx; o timeout por requisição é responsabilidade do chamador.
type RegistrationClient struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	throttle domain.Throttle
}

type RegistrationOption func(*RegistrationClient)

func WithAPIKey(key string) RegistrationOption {
	return func(c *RegistrationClient) { c.apiKey = key }
}

func WithThrottle(t domain.Throttle) RegistrationOption {
	return func(c *RegistrationClient) { c.throttle = t }
}

func WithHTTPClient(h *http.Client) RegistrationOption {
	return func(c *RegistrationClient) { c.client = h }
}

func NewRegistrationClient(baseURL string, opts ...RegistrationOption) *RegistrationClient {
	c := &RegistrationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError é uma resposta não-2xx do sistema de registro.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registration system responded %d: %s", e.Code, e.Body)
}

// Temporary informa se vale a pena tentar de novo (429 e 5xx).
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type statusChange struct {
	StatusChange domain.RegistrationStatus `json:"statusChange"`
}

func (c *RegistrationClient) SetStatus(ctx context.Context, auctionID, registrantID string, status domain.RegistrationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set status: invalid status %q", status)
	}
	if auctionID == "" || registrantID == "" {
		return errors.New("set status: auction and registrant are required")
	}

	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, auctionID); err != nil {
			return fmt.Errorf("registration throttle: %w", err)
		}
	}

	body, err := json.Marshal(statusChange{StatusChange: status})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/v2/auctions/%s/registrants/%s",
		c.baseURL, url.PathEscape(auctionID), url.PathEscape(registrantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("patch registrant %s: %w", registrantID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
