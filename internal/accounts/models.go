package accounts

import (
	"time"

	"github.com/ksred/energydesk-api/internal/types"
)

type Team struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"created_at"`
}

// Trader is the stored identity behind types.Account
type Trader struct {
	ID              uint                `gorm:"primaryKey" json:"id"`
	TraderName      string              `gorm:"uniqueIndex;not null" json:"trader_name"`
	DisplayName     string              `gorm:"not null" json:"display_name"`
	Firm            string              `json:"firm,omitempty"`
	PINHash         string              `gorm:"not null" json:"-"`
	Status          types.AccountStatus `gorm:"index;not null;default:PENDING" json:"status"`
	StartingBalance float64             `gorm:"not null;check:chk_traders_starting_balance,starting_balance > 0" json:"starting_balance"`
	TeamID          *uint               `gorm:"index" json:"team_id,omitempty"`
	Team            *Team               `gorm:"foreignKey:TeamID;constraint:OnDelete:SET NULL" json:"team,omitempty"`
	OTCAvailable    bool                `gorm:"not null;default:false" json:"otc_available"`
	LastSeen        *time.Time          `json:"last_seen,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Account converts the stored trader into the view the trading core consumes
func (t *Trader) Account() *types.Account {
	account := &types.Account{
		TraderID:        t.TraderName,
		DisplayName:     t.DisplayName,
		Status:          t.Status,
		StartingBalance: t.StartingBalance,
		TeamID:          t.TeamID,
		OTCAvailable:    t.OTCAvailable,
		LastSeen:        t.LastSeen,
	}
	if t.Team != nil {
		account.TeamName = t.Team.Name
	}
	return account
}

// Counterparty is an entry in a trader's OTC counterparty list
type Counterparty struct {
	TraderName   string `json:"trader_name"`
	DisplayName  string `json:"display_name"`
	Firm         string `json:"firm,omitempty"`
	OTCAvailable bool   `json:"otc_available"`
	TeamName     string `json:"team_name"`
	TeamColor    string `json:"team_color"`
}

type RegisterRequest struct {
	Name        string `json:"name" binding:"required,max=60"`
	DisplayName string `json:"display_name" binding:"omitempty,max=30"`
	Firm        string `json:"firm" binding:"omitempty,max=60"`
	PIN         string `json:"pin" binding:"required,pin"`
}

type CredentialsRequest struct {
	TraderName string `json:"trader_name" binding:"required"`
	PIN        string `json:"pin" binding:"required,pin"`
}

type OTCStatusRequest struct {
	OTCAvailable *bool `json:"otc_available" binding:"required"`
}

type StatusRequest struct {
	Status types.AccountStatus `json:"status" binding:"required,oneof=PENDING ACTIVE DISABLED"`
}

type BalanceRequest struct {
	StartingBalance float64 `json:"starting_balance" binding:"required,gt=0"`
}

type TeamRequest struct {
	Name        string `json:"name" binding:"required,max=40"`
	Description string `json:"description" binding:"omitempty,max=200"`
	Color       string `json:"color" binding:"omitempty,hexcolor"`
}

type AssignRequest struct {
	TraderName string `json:"trader_name" binding:"required"`
}
