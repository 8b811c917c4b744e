package domain

import "time"

// TenantCredential is the bearer token used to call a tenant's external API.
type TenantCredential struct {
	TenantID  int64     `json:"tenant_id"`
	Token     string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
