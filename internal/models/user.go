package models

import (
	"fmt"
	"time"
)

const (
	UserStatusActive  = "active"
	UserStatusBlocked = "blocked"
	UserStatusDeleted = "deleted"
)

type User struct {
	ID               uint    `gorm:"primaryKey"`
	TelegramID       *int64  `gorm:"uniqueIndex"`
	Email            *string `gorm:"size:255;uniqueIndex"`
	EmailVerified    bool    `gorm:"default:false"`
	Username         string  `gorm:"size:255"`
	Language         string  `gorm:"size:8;default:'ru'"`
	Status           string  `gorm:"size:20;default:'active'"`
	BalanceKopeks    int64   `gorm:"not null;default:0"`
	RestrictionTopup bool    `gorm:"default:false"`
	RemnawaveUUID    string  `gorm:"size:64;index"`
	PromoGroupID     *uint   `gorm:"index"`
	PromoGroup       *PromoGroup
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DisplayID identifies the user in logs; email-only users have no telegram id.
func (u *User) DisplayID() string {
	if u.TelegramID != nil {
		return fmt.Sprintf("%d", *u.TelegramID)
	}
	if u.Email != nil && *u.Email != "" {
		return fmt.Sprintf("%d (%s)", u.ID, *u.Email)
	}
	return fmt.Sprintf("#%d", u.ID)
}

func (u *User) IsActive() bool {
	return u.Status != UserStatusBlocked && u.Status != UserStatusDeleted
}

// AddonDiscountPercent is the promo group discount applied to traffic add-ons, clamped to [0,100].
func (u *User) AddonDiscountPercent() int {
	if u.PromoGroup == nil || !u.PromoGroup.ApplyDiscountsToAddons {
		return 0
	}
	return min(max(u.PromoGroup.TrafficDiscountPercent, 0), 100)
}

type PromoGroup struct {
	ID                     uint   `gorm:"primaryKey"`
	Name                   string `gorm:"size:255;not null"`
	TrafficDiscountPercent int    `gorm:"default:0"`
	ApplyDiscountsToAddons bool   `gorm:"default:true"`
	CreatedAt              time.Time
}
