package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// maxErrorBody bounds how much of a failed response body ends up in an error.
const maxErrorBody = 512

// SessionCredential is a short-lived credential for one realtime connection.
type SessionCredential struct {
	SessionID    string `json:"sessionId"`
	ClientSecret string `json:"clientSecret"`
}

// NegotiatorConfig points the negotiator at the credential proxy and the realtime endpoint.
type NegotiatorConfig struct {
	SessionsURL string
	BaseURL     string
	Model       string
}

// Negotiator performs the two HTTP legs of session setup. It is stateless and never retries.
type Negotiator struct {
	client *http.Client
	cfg    NegotiatorConfig
	logger *zap.Logger
}

// NewNegotiator creates a Negotiator. A nil client gets an otelhttp-instrumented default.
func NewNegotiator(cfg NegotiatorConfig, client *http.Client, logger *zap.Logger) *Negotiator {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Negotiator{client: client, cfg: cfg, logger: logger}
}

// CreateSession asks the backend proxy for an ephemeral credential.
func (n *Negotiator) CreateSession(ctx context.Context) (SessionCredential, error) {
	ctx, span := otel.Tracer("Negotiator").Start(ctx, "CreateSession")
	defer span.End()

	l := n.logger.With(zap.String("method", "CreateSession"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.SessionsURL, http.NoBody)
	if err != nil {
		return SessionCredential{}, fmt.Errorf("%w: building session request: %v", models.ErrConnection, err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := n.do(req)
	if err != nil {
		l.Error("Session request failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session failed")
		return SessionCredential{}, err
	}

	var cred SessionCredential
	if err := json.Unmarshal(body, &cred); err != nil {
		span.SetStatus(codes.Error, "invalid session response")
		return SessionCredential{}, fmt.Errorf("%w: decoding session response: %v", models.ErrConnection, err)
	}
	if cred.ClientSecret == "" {
		span.SetStatus(codes.Error, "missing client secret")
		return SessionCredential{}, fmt.Errorf("%w: session response has no client secret", models.ErrConnection)
	}
	l.Debug("Session credential issued", zap.String("session_id", cred.SessionID))
	span.SetStatus(codes.Ok, "session created")
	return cred, nil
}

// Negotiate posts the local SDP offer and returns the remote SDP answer.
func (n *Negotiator) Negotiate(ctx context.Context, offerSDP, clientSecret string) (string, error) {
	ctx, span := otel.Tracer("Negotiator").Start(ctx, "Negotiate")
	defer span.End()

	endpoint, err := url.Parse(n.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid realtime base url: %v", models.ErrConnection, err)
	}
	if n.cfg.Model != "" {
		q := endpoint.Query()
		q.Set("model", n.cfg.Model)
		endpoint.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("%w: building sdp request: %v", models.ErrConnection, err)
	}
	req.Header.Set("Authorization", "Bearer "+clientSecret)
	req.Header.Set("Content-Type", "application/sdp")

	body, err := n.do(req)
	if err != nil {
		n.logger.Error("SDP exchange failed", zap.String("method", "Negotiate"), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "negotiate failed")
		return "", err
	}
	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		span.SetStatus(codes.Error, "empty answer")
		return "", fmt.Errorf("%w: empty sdp answer", models.ErrConnection)
	}
	span.SetStatus(codes.Ok, "answer received")
	return answer, nil
}

func (n *Negotiator) do(req *http.Request) ([]byte, error) {
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", models.ErrConnection, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", models.ErrConnection, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", models.ErrConnection,
			req.Method, req.URL.Path, resp.StatusCode, truncate(bytes.TrimSpace(body), maxErrorBody))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
