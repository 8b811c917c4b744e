package domain

import (
	"time"

	"github.com/google/uuid"
)

// Route describes one paginated endpoint of a tenant's external API.
// URLTemplate may reference {tenant_id}; header values may reference {token} and {tenant_id}.
type Route struct {
	ID          uuid.UUID         `json:"id"`
	TenantID    int64             `json:"tenant_id"`
	Name        string            `json:"name"`
	URLTemplate string            `json:"url_template"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	RawTable    string            `json:"raw_table"`
	Active      bool              `json:"active"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
