// Package token implements the geofenced boarding proof: a short-lived,
// single-use secret whose hash is pinned to an accepted ride. Per ride the
// token moves none -> issued -> validated | expired.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/example/transit-dispatch/internal/audit"
	"github.com/example/transit-dispatch/internal/models"
	"github.com/example/transit-dispatch/internal/rides"
)

// DefaultTTL is how long a boarding token stays scannable.
const DefaultTTL = 90 * time.Second

type Issuer struct {
	Rides *rides.Store
	Audit *audit.Log
	TTL   time.Duration
	Now   func() time.Time // test hook; defaults to time.Now
}

func NewIssuer(r *rides.Store, a *audit.Log) *Issuer {
	return &Issuer{Rides: r, Audit: a, TTL: DefaultTTL, Now: time.Now}
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Issued carries the one-time secret back to the caller. The secret is never
// stored; only its hash survives on the ride.
type Issued struct {
	Token  models.BoardingToken
	Secret string
}

// HashSecret is the digest the validator compares against.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Issue mints a token for an accepted ride. Any live token on the ride is
// silently replaced; the old hash becomes unreachable because validation
// always reads the ride's current token. Returns nil for rides not in
// accepted status, without touching the ride.
func (i *Issuer) Issue(rideID string) *Issued {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	secret := hex.EncodeToString(raw)
	idb := make([]byte, 3)
	_, _ = rand.Read(idb)
	tok := models.BoardingToken{
		ID:         "qr_" + hex.EncodeToString(idb),
		SecretHash: HashSecret(secret),
		ExpiresAt:  i.now().Add(i.ttl()),
	}
	attached := false
	i.Rides.Mutate(rideID, func(r *models.RideRequest) {
		if r.Status != models.RideAccepted {
			return
		}
		r.Token = &tok
		attached = true
	})
	if !attached {
		return nil
	}
	i.Audit.Record("qr_generate", "accepted", map[string]any{"rideId": rideID})
	return &Issued{Token: tok, Secret: secret}
}

func (i *Issuer) ttl() time.Duration {
	if i.TTL > 0 {
		return i.TTL
	}
	return DefaultTTL
}

// Validate checks a presented secret digest against the ride's current token.
// Expiry is inclusive: a token issued at T dies exactly at T+TTL. An expired
// token is cleared so retry needs a fresh issuance; a mismatched digest
// leaves the token intact so the passenger can rescan within the window.
// A match transitions the ride to complete and consumes the token.
func (i *Issuer) Validate(rideID, presentedHash string) bool {
	outcome := ""
	i.Rides.Mutate(rideID, func(r *models.RideRequest) {
		if r.Token == nil {
			outcome = "missing"
			return
		}
		if !i.now().Before(r.Token.ExpiresAt) {
			r.Token = nil
			outcome = "expired"
			return
		}
		if r.Token.SecretHash != presentedHash {
			outcome = "mismatch"
			return
		}
		if rides.Allowed(r.Status, models.RideComplete) {
			r.Status = models.RideComplete
		}
		r.Token = nil // consumed
		outcome = "ok"
	})
	switch outcome {
	case "expired":
		i.Audit.Record("qr_validate", "expired", map[string]any{"rideId": rideID})
	case "mismatch":
		i.Audit.Record("qr_validate", "hash_mismatch", map[string]any{"rideId": rideID})
	case "ok":
		i.Audit.Record("boarding_complete", "qr_ok", map[string]any{"rideId": rideID})
	}
	return outcome == "ok"
}

// ValidateServerSide confirms boarding using the stored hash directly. The
// proximity sweep uses this once the vehicle is co-located with the stop, so
// no client scan is needed.
func (i *Issuer) ValidateServerSide(rideID string) bool {
	r, ok := i.Rides.Get(rideID)
	if !ok || r.Token == nil {
		return false
	}
	return i.Validate(rideID, r.Token.SecretHash)
}

// ExpireStale clears tokens whose expiry has passed even when nobody tried to
// validate them. Returns the ride IDs that were cleaned.
func (i *Issuer) ExpireStale() []string {
	var cleaned []string
	for _, r := range i.Rides.All() {
		if r.Token == nil || i.now().Before(r.Token.ExpiresAt) {
			continue
		}
		id := r.ID
		i.Rides.Mutate(id, func(r *models.RideRequest) {
			if r.Token != nil && !i.now().Before(r.Token.ExpiresAt) {
				r.Token = nil
				cleaned = append(cleaned, id)
			}
		})
	}
	for _, id := range cleaned {
		i.Audit.Record("maintenance", "qr_expired_cleanup", map[string]any{"rideId": id})
	}
	return cleaned
}
