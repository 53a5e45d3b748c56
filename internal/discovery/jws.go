package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/vivars7/a2a-orchestrator/internal/config"
)

// ErrUnsignedCard is returned when signatures are required and the card is plain JSON.
var ErrUnsignedCard = errors.New("card signature required but card is not JWS-signed")

// JWSVerifierConfig holds JWS verification settings for Agent Card signatures.
type JWSVerifierConfig struct {
	Require         bool
	TrustedJWKSURLs []string
	CacheTTL        time.Duration
}

// JWSConfigFrom extracts the signature settings from the root config.
func JWSConfigFrom(cfg *config.Config) JWSVerifierConfig {
	sig := cfg.Security.CardSignature
	return JWSVerifierConfig{
		Require:         sig.Require,
		TrustedJWKSURLs: sig.TrustedJWKSURLs,
		CacheTTL:        sig.CacheTTL.Duration,
	}
}

// JWSVerifier verifies Agent Card JWS signatures against trusted JWKS endpoints.
// Key sets are held in a jwk.Cache that refreshes them in the background.
type JWSVerifier struct {
	cfg   JWSVerifierConfig
	cache *jwk.Cache
}

// NewJWSVerifier creates a verifier. Call StartCache before verifying signed cards.
func NewJWSVerifier(cfg JWSVerifierConfig) *JWSVerifier {
	return &JWSVerifier{cfg: cfg}
}

// StartCache registers every trusted JWKS URL with an auto-refresh cache bound to ctx.
func (v *JWSVerifier) StartCache(ctx context.Context) error {
	if len(v.cfg.TrustedJWKSURLs) == 0 {
		return nil
	}

	c := jwk.NewCache(ctx)
	for _, url := range v.cfg.TrustedJWKSURLs {
		if err := c.Register(url, jwk.WithMinRefreshInterval(v.cfg.CacheTTL)); err != nil {
			return fmt.Errorf("registering JWKS URL %s: %w", url, err)
		}
	}
	v.cache = c
	return nil
}

// VerifyCardSignature returns the card JSON carried by cardData.
// A JWS compact serialization is verified against the trusted key sets and its
// payload returned. Plain JSON passes through unless signatures are required.
func (v *JWSVerifier) VerifyCardSignature(ctx context.Context, cardData []byte) ([]byte, error) {
	if _, err := jws.Parse(cardData); err != nil {
		if v.cfg.Require {
			return nil, ErrUnsignedCard
		}
		return cardData, nil
	}

	if v.cache == nil {
		return nil, fmt.Errorf("no trusted JWKS configured for signature verification")
	}

	for _, url := range v.cfg.TrustedJWKSURLs {
		keyset, err := v.cache.Get(ctx, url)
		if err != nil {
			continue
		}
		if payload, err := jws.Verify(cardData, jws.WithKeySet(keyset)); err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("card JWS signature verification failed against all trusted JWKS")
}

// IsConfigured reports whether trusted JWKS URLs are set.
func (v *JWSVerifier) IsConfigured() bool {
	return len(v.cfg.TrustedJWKSURLs) > 0
}

// RequireSignature reports whether unsigned cards are rejected.
func (v *JWSVerifier) RequireSignature() bool {
	return v.cfg.Require
}
