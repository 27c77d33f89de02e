package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)

// Client carries the platform gateway account settings. The API client is
// optional: webhook verification only needs the signing secret.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
	tolerance     time.Duration
}

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	var api *stripe.Client
	if apiKey := strings.TrimSpace(cfg.APIKey); apiKey != "" {
		if err := validateAPIKey(env, apiKey); err != nil {
			return nil, err
		}
		api = stripe.NewClient(apiKey)
	}

	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"stripe_env":                  env,
			"platform_signing_configured": signingSecret != "",
		})
		logg.Info(ctx, "stripe client initialized")
	}

	return &Client{
		api:           api,
		environment:   env,
		signingSecret: signingSecret,
		tolerance:     tolerance,
	}, nil
}

// API returns the underlying Stripe API client, nil when no key is configured.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the platform webhook signing secret; empty when the
// platform has none configured.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// VerifySignature checks a Stripe-Signature header against secret.
func (c *Client) VerifySignature(payload []byte, header, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("signing secret is empty")
	}
	tolerance := webhook.DefaultTolerance
	if c != nil && c.tolerance > 0 {
		tolerance = c.tolerance
	}
	return webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
