package models

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&PromoGroup{},
		&User{},
		&Tariff{},
		&Subscription{},
		&TrafficPurchase{},
		&ServerSquad{},
		&Transaction{},
		&AdvertisingCampaign{},
		&CampaignRegistration{},
		&Payment{},
	}
}
