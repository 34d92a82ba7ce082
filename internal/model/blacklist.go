package model

import (
	"time"

	"github.com/google/uuid"
)

type BlacklistSource string

const (
	BlacklistSourceUserOptout  BlacklistSource = "user_optout"
	BlacklistSourceAdminImport BlacklistSource = "admin_import"
	BlacklistSourceCompliance  BlacklistSource = "compliance"
)

func (s BlacklistSource) IsValid() bool {
	switch s {
	case BlacklistSourceUserOptout, BlacklistSourceAdminImport, BlacklistSourceCompliance:
		return true
	}
	return false
}

// BlacklistEntry is a permanent do-not-contact record, keyed globally by
// phone number. Entries are never overwritten; removal is an explicit
// administrative operation.
type BlacklistEntry struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	PhoneNumber string          `json:"phone_number" db:"phone_number"`
	Reason      string          `json:"reason" db:"reason"`
	Source      BlacklistSource `json:"source" db:"source"`
	Metadata    JSONMap         `json:"metadata" db:"metadata"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
