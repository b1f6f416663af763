package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// IssuerConfig configures calls to the provider's credential endpoint.
type IssuerConfig struct {
	SessionsURL  string
	APIKey       string
	Model        string
	Voice        string
	Instructions string
}

// Issuer exchanges the server API key for an ephemeral client credential. It runs on the
// backend so the API key never reaches a browser.
type Issuer struct {
	client *http.Client
	cfg    IssuerConfig
	logger *zap.Logger
}

func NewIssuer(cfg IssuerConfig, client *http.Client, logger *zap.Logger) *Issuer {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{client: client, cfg: cfg, logger: logger}
}

type issueRequest struct {
	Model        string `json:"model,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Issue requests a new credential from the provider.
func (i *Issuer) Issue(ctx context.Context) (SessionCredential, error) {
	ctx, span := otel.Tracer("Issuer").Start(ctx, "Issue")
	defer span.End()

	l := i.logger.With(zap.String("method", "Issue"))

	if i.cfg.APIKey == "" {
		span.SetStatus(codes.Error, "missing api key")
		return SessionCredential{}, fmt.Errorf("%w: realtime api key is not configured", models.ErrConnection)
	}

	payload, err := json.Marshal(issueRequest{Model: i.cfg.Model, Voice: i.cfg.Voice, Instructions: i.cfg.Instructions})
	if err != nil {
		return SessionCredential{}, fmt.Errorf("encoding issue request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.SessionsURL, bytes.NewReader(payload))
	if err != nil {
		return SessionCredential{}, fmt.Errorf("%w: building issue request: %v", models.ErrConnection, err)
	}
	req.Header.Set("Authorization", "Bearer "+i.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		l.Error("Provider session request failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return SessionCredential{}, fmt.Errorf("%w: provider session request: %v", models.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SessionCredential{}, fmt.Errorf("%w: reading provider response: %v", models.ErrConnection, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		l.Error("Provider rejected session request", zap.Int("status", resp.StatusCode))
		span.SetStatus(codes.Error, "provider rejected request")
		return SessionCredential{}, fmt.Errorf("%w: provider returned %d: %s", models.ErrConnection,
			resp.StatusCode, truncate(bytes.TrimSpace(body), maxErrorBody))
	}

	cred, err := parseIssued(body)
	if err != nil {
		span.SetStatus(codes.Error, "invalid provider response")
		return SessionCredential{}, err
	}
	l.Info("Issued realtime credential", zap.String("session_id", cred.SessionID))
	span.SetStatus(codes.Ok, "issued")
	return cred, nil
}

// parseIssued accepts the provider's shape ({id, client_secret: {value}}), a flat
// client_secret string, or our own {sessionId, clientSecret}.
func parseIssued(body []byte) (SessionCredential, error) {
	var raw struct {
		ID           string          `json:"id"`
		SessionID    string          `json:"sessionId"`
		ClientSecret json.RawMessage `json:"client_secret"`
		Secret       string          `json:"clientSecret"`
		Value        string          `json:"value"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return SessionCredential{}, fmt.Errorf("%w: decoding provider response: %v", models.ErrConnection, err)
	}

	cred := SessionCredential{SessionID: firstNonEmpty(raw.SessionID, raw.ID), ClientSecret: raw.Secret}
	if cred.ClientSecret == "" && len(raw.ClientSecret) > 0 {
		var nested struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(raw.ClientSecret, &nested); err == nil && nested.Value != "" {
			cred.ClientSecret = nested.Value
		} else {
			var flat string
			if err := json.Unmarshal(raw.ClientSecret, &flat); err == nil {
				cred.ClientSecret = flat
			}
		}
	}
	if cred.ClientSecret == "" {
		cred.ClientSecret = raw.Value
	}
	if cred.ClientSecret == "" {
		return SessionCredential{}, fmt.Errorf("%w: provider response has no client secret", models.ErrConnection)
	}
	return cred, nil
}
