package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthUser is the raw authentication identity held by the local auth
// backend. In hosted mode the equivalent record lives inside the remote
// service and is never stored here.
type AuthUser struct {
	bun.BaseModel `bun:"table:auth_users"`

	ID           string     `bun:"id,pk"`
	Email        string     `bun:"email,notnull,unique"`
	PasswordHash string     `bun:"password_hash,notnull"`
	Name         string     `bun:"name"`
	ConfirmedAt  *time.Time `bun:"confirmed_at"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
}

func (u *AuthUser) Confirmed() bool {
	return u.ConfirmedAt != nil
}

func (u *AuthUser) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if u.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			u.ID = id.String()
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}

// RefreshToken is a single-use token for renewing a local-mode session.
// Rotation links the replacement via ReplacedBy.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens"`

	ID         string    `bun:"id,pk"`
	UserID     string    `bun:"user_id,notnull"`
	TokenHash  string    `bun:"token_hash,notnull,unique"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
	Revoked    bool      `bun:"revoked,notnull"`
	ReplacedBy *string   `bun:"replaced_by"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

func (t *RefreshToken) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if t.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			t.ID = id.String()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}
