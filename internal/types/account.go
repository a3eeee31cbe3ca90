package types

import "time"

type AccountStatus string

const (
	AccountStatusPending  AccountStatus = "PENDING"
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusDisabled AccountStatus = "DISABLED"
)

// Account is the view of a trader the ledger core consumes
type Account struct {
	TraderID        string        `json:"trader_id"`
	DisplayName     string        `json:"display_name"`
	Status          AccountStatus `json:"status"`
	StartingBalance float64       `json:"starting_balance"`
	TeamID          *uint         `json:"team_id,omitempty"`
	TeamName        string        `json:"team_name,omitempty"`
	OTCAvailable    bool          `json:"otc_available"`
	LastSeen        *time.Time    `json:"last_seen,omitempty"`
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// SameTeam reports whether both accounts belong to one team. Teamless traders share no team.
func (a *Account) SameTeam(other *Account) bool {
	if a.TeamID == nil || other.TeamID == nil {
		return false
	}
	return *a.TeamID == *other.TeamID
}
