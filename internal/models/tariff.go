package models

import (
	"time"

	"gorm.io/datatypes"
)

type Tariff struct {
	ID                   uint   `gorm:"primaryKey"`
	Name                 string `gorm:"size:255;not null"`
	IsActive             bool   `gorm:"default:true"`
	IsDaily              bool   `gorm:"default:false;index"`
	DailyPriceKopeks     int64  `gorm:"default:0"`
	PeriodPrices         datatypes.JSONType[map[int]int64]
	TrafficLimitGB       int  `gorm:"default:0"`
	DeviceLimit          int  `gorm:"default:1"`
	TrafficTopupEnabled  bool `gorm:"default:false"`
	TrafficTopupPackages datatypes.JSONType[map[int]int64]
	MaxTopupTrafficGB    int `gorm:"default:0"`
	AllowedSquads        datatypes.JSONSlice[string]
	AllowedPromoGroups   datatypes.JSONSlice[uint]
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (t *Tariff) CanTopupTraffic() bool {
	return t.TrafficTopupEnabled && len(t.TrafficTopupPackages.Data()) > 0
}

// TopupPrice returns the monthly price of a package and whether the tariff sells it.
func (t *Tariff) TopupPrice(gb int) (int64, bool) {
	price, ok := t.TrafficTopupPackages.Data()[gb]
	return price, ok
}
