package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/Skotchmaster/identity-gateway/internal/directory"
	"github.com/Skotchmaster/identity-gateway/internal/federated"
	"github.com/Skotchmaster/identity-gateway/internal/logging"
	"github.com/Skotchmaster/identity-gateway/internal/models"
	"github.com/Skotchmaster/identity-gateway/internal/tokens"
)

const bearerPrefix = "Bearer "

// bearerToken splits the token out of a bearer Authorization value. A bare
// "Bearer" keyword is still a bearer attempt (with an empty token); an opaque
// credential that merely starts with the letters "Bearer" is not.
func bearerToken(authorization string) (string, bool) {
	if authorization == "Bearer" {
		return "", true
	}
	raw, ok := strings.CutPrefix(authorization, bearerPrefix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(raw), true
}

// Resolution is the terminal outcome of a successful resolution.
//
// Exactly one of these shapes applies:
//   - Caller set: the request is authenticated, the pipeline continues.
//   - RepairAccessToken set: the access token was rotated; the request must
//     be answered with a repair response and resubmitted by the client.
//
// IssuedAccessToken/IssuedRefreshToken accompany Caller on the federated
// rotation path and are exposed via response headers, never the body.
type Resolution struct {
	Caller *CallerContext
	Admin  *CallerContext

	RepairAccessToken string
	RepairUserID      string
	RepairEmail       string

	IssuedAccessToken  string
	IssuedRefreshToken string
}

// Resolver decides, from inbound credential material alone, who the caller is
// and whether their credential chain is valid, repairable, or rejected. It
// owns the decision process but never owns identity storage.
type Resolver struct {
	Codec     *tokens.Codec
	Dir       directory.Directory
	Federated federated.Verifier
}

func New(codec *tokens.Codec, dir directory.Directory, verifier federated.Verifier) *Resolver {
	return &Resolver{Codec: codec, Dir: dir, Federated: verifier}
}

// Resolve runs the per-request state machine over the Authorization value.
//
// Any non-bearer credential is assumed to be a federated identity token and
// falls through to the federated path wholesale, with rotation enabled.
func (r *Resolver) Resolve(ctx context.Context, authorization string) (*Resolution, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return nil, authErr(CodeUnauthenticated, "missing credentials", nil)
	}

	raw, isBearer := bearerToken(authorization)
	if !isBearer {
		return r.ResolveFederated(ctx, authorization, true)
	}
	if raw == "" {
		return nil, authErr(CodeUnauthenticated, "empty bearer token", nil)
	}

	claims, err := r.Codec.VerifyAccess(raw)
	if err == nil {
		return r.materialize(ctx, claims.UserID)
	}

	return r.repair(ctx, raw, err)
}

// repair attempts silent token rotation from the refresh token embedded in an
// already-rejected access token. On success the outcome is a repair
// resolution, not an authenticated one: the server never re-executes business
// logic transparently after a refresh.
func (r *Resolver) repair(ctx context.Context, raw string, verifyErr error) (*Resolution, error) {
	stale := r.Codec.DecodeUnsafe(raw)
	if stale == nil || stale.RefreshToken == "" {
		switch {
		case errors.Is(verifyErr, tokens.ErrTokenExpired):
			return nil, authErr(CodeTokenExpired, "access token expired and cannot be repaired", verifyErr)
		case errors.Is(verifyErr, tokens.ErrInvalidSignature):
			return nil, authErr(CodeInvalidSignature, "access token signature invalid", verifyErr)
		default:
			return nil, authErr(CodeUnauthenticated, "access token rejected and cannot be repaired", verifyErr)
		}
	}

	refreshClaims, err := r.Codec.VerifyRefresh(stale.RefreshToken)
	if err != nil {
		return nil, authErr(CodeSessionExpired, "refresh token invalid or expired, sign in again", err)
	}

	next := tokens.Claims{
		UserID: refreshClaims.UserID,
		Email:  refreshClaims.Email,
		Phone:  refreshClaims.Phone,
	}
	newRefresh, err := r.Codec.SignRefresh(next)
	if err != nil {
		return nil, err
	}

	won, err := r.Dir.RotateRefreshToken(ctx, refreshClaims.UserID, refreshClaims.Email, stale.RefreshToken, newRefresh)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, authErr(CodeRefreshMismatch, "refresh token already rotated or identity gone", nil)
	}

	next.RefreshToken = newRefresh
	newAccess, err := r.Codec.SignAccess(next)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("refresh_rotated", "user_id", refreshClaims.UserID)
	return &Resolution{
		RepairAccessToken: newAccess,
		RepairUserID:      refreshClaims.UserID,
		RepairEmail:       refreshClaims.Email,
	}, nil
}

// ResolveFederated validates a third-party identity token and reconciles it
// against the local directory. Unknown callers get a transient context (role
// "user", no row created). Known callers get a freshly minted token pair when
// rotate is true; presenting a valid federated token is itself sufficient to
// mint a new local session.
func (r *Resolver) ResolveFederated(ctx context.Context, raw string, rotate bool) (*Resolution, error) {
	if r.Federated == nil {
		return nil, authErr(CodeInvalidFederatedToken, "federated verification unavailable", nil)
	}

	claims, err := r.Federated.Verify(ctx, raw)
	if err != nil {
		return nil, authErr(CodeInvalidFederatedToken, "federated token rejected", err)
	}

	user, err := r.Dir.FindByEmail(ctx, claims.Email)
	if errors.Is(err, directory.ErrNotFound) {
		caller := &CallerContext{
			Email:        directory.NormalizeEmail(claims.Email),
			Role:         models.RoleUser,
			FederatedUID: claims.UID,
			Ephemeral:    true,
		}
		return &Resolution{Caller: caller}, nil
	}
	if err != nil {
		return nil, err
	}

	res := resolutionFor(user)
	if res.Caller.FederatedUID == "" {
		res.Caller.FederatedUID = claims.UID
	}

	if rotate {
		access, refresh, err := r.MintSession(ctx, user)
		if err != nil {
			return nil, err
		}
		res.IssuedAccessToken = access
		res.IssuedRefreshToken = refresh
		logging.FromContext(ctx).Info("federated_session_minted", "user_id", user.ID)
	}

	return res, nil
}

// ResolveOptional is the advisory variant: it never rotates, never repairs,
// and degrades to an anonymous resolution instead of failing.
func (r *Resolver) ResolveOptional(ctx context.Context, authorization string) *Resolution {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return &Resolution{}
	}

	raw, isBearer := bearerToken(authorization)
	if !isBearer {
		res, err := r.ResolveFederated(ctx, authorization, false)
		if err != nil {
			return &Resolution{}
		}
		return res
	}
	if raw == "" {
		return &Resolution{}
	}
	claims, err := r.Codec.VerifyAccess(raw)
	if err != nil {
		return &Resolution{}
	}
	res, err := r.materialize(ctx, claims.UserID)
	if err != nil {
		return &Resolution{}
	}
	return res
}

// MintSession issues a fresh access/refresh pair for an existing identity and
// persists the refresh token as the single active rotation credential.
func (r *Resolver) MintSession(ctx context.Context, user *models.User) (access, refresh string, err error) {
	claims := tokens.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Phone:  user.Phone,
	}
	refresh, err = r.Codec.SignRefresh(claims)
	if err != nil {
		return "", "", err
	}
	if err = r.Dir.SetRefreshToken(ctx, user.ID, refresh); err != nil {
		return "", "", err
	}
	claims.RefreshToken = refresh
	access, err = r.Codec.SignAccess(claims)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// materialize is the shared tail of the bearer and federated success paths:
// the identity is re-fetched so a deleted user with a still-valid token is
// rejected, and the role always comes from storage, never from the token.
func (r *Resolver) materialize(ctx context.Context, id string) (*Resolution, error) {
	user, err := r.Dir.FindByID(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, authErr(CodeIdentityNotFound, "identity no longer exists", err)
	}
	if err != nil {
		return nil, err
	}
	return resolutionFor(user), nil
}

func resolutionFor(user *models.User) *Resolution {
	res := &Resolution{Caller: Project(user)}
	if user.Role == models.RoleAdmin {
		res.Admin = Project(user)
	}
	return res
}
