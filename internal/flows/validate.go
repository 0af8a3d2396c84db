package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goGate/jwt"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureMalformed
	ValidateFailureSignature
	ValidateFailureWrongCategory
	ValidateFailureExpired
	ValidateFailureRevoked
	ValidateFailureStore
)

type ValidateRevocationList interface {
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	Codec        TokenCodec
	Revocations  ValidateRevocationList
	StoreContext StoreContext
}

// ValidateResult returns either the verified claims or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.Claims
}

// RunValidate checks signature, category, expiry and revocation, in that
// order. The revocation list is only consulted for otherwise valid tokens.
func RunValidate(ctx context.Context, token string, deps ValidateDeps) ValidateResult {
	claims, err := deps.Codec.Parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return ValidateResult{Failure: ValidateFailureSignature, Err: err}
		}
		return ValidateResult{Failure: ValidateFailureMalformed, Err: err}
	}
	if claims.Category != jwt.CategoryAccess {
		return ValidateResult{Failure: ValidateFailureWrongCategory, Claims: claims}
	}
	if deps.Codec.IsExpired(claims) {
		return ValidateResult{Failure: ValidateFailureExpired, Claims: claims}
	}

	sctx, cancel := deps.StoreContext.derive(ctx)
	revoked, err := deps.Revocations.Contains(sctx, claims.ID)
	cancel()
	if err != nil {
		return ValidateResult{Failure: ValidateFailureStore, Err: err, Claims: claims}
	}
	if revoked {
		return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
	}

	return ValidateResult{Claims: claims}
}
