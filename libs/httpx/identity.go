package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

// Identity headers are set by the gateway after authentication.
const (
	UserIDHeader     = "X-User-Id"
	RoleHeader       = "X-Role"
	ProviderIDHeader = "X-Provider-Id"
)

const (
	RolePatient  = "patient"
	RoleProvider = "provider"
)

type Identity struct {
	UserID     string
	Role       string
	ProviderID string
}

func (id Identity) IsProvider() bool { return id.Role == RoleProvider && id.ProviderID != "" }

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return id, ok
}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromRequest reads the gateway headers. A missing user id is an auth error.
func IdentityFromRequest(r *http.Request) (Identity, error) {
	id := Identity{
		UserID:     strings.TrimSpace(r.Header.Get(UserIDHeader)),
		Role:       strings.ToLower(strings.TrimSpace(r.Header.Get(RoleHeader))),
		ProviderID: strings.TrimSpace(r.Header.Get(ProviderIDHeader)),
	}
	if id.UserID == "" {
		return Identity{}, domain.Auth("missing identity")
	}
	if id.Role == "" {
		id.Role = RolePatient
	}
	return id, nil
}

// SetIdentityHeaders is the client half of IdentityFromRequest.
func SetIdentityHeaders(req *http.Request, id Identity) {
	if id.UserID != "" {
		req.Header.Set(UserIDHeader, id.UserID)
	}
	if id.Role != "" {
		req.Header.Set(RoleHeader, id.Role)
	}
	if id.ProviderID != "" {
		req.Header.Set(ProviderIDHeader, id.ProviderID)
	}
}
