package resolver

import (
	"github.com/Skotchmaster/identity-gateway/internal/models"
)

// CallerContext is the minimal request-scoped projection of an identity
// handed to downstream handlers. Ephemeral marks a federated caller with no
// persisted identity; converting it into a row is an explicit registration
// step, never a side effect of resolution.
type CallerContext struct {
	ID           string `json:"id,omitempty"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	Role         string `json:"role"`
	FederatedUID string `json:"federated_uid,omitempty"`
	Ephemeral    bool   `json:"-"`
}

// Project derives the caller context from a persisted identity. It must never
// surface the password hash or the stored refresh token.
func Project(u *models.User) *CallerContext {
	return &CallerContext{
		ID:           u.ID,
		Email:        u.Email,
		Phone:        u.Phone,
		Role:         u.Role,
		FederatedUID: u.FederatedUID,
	}
}
