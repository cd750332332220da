package models

import (
	"time"
)

// ImpactStats are the cumulative marketplace aggregates shown on the impact
// dashboard. They are only ever mutated through atomic $inc updates.
type ImpactStats struct {
	ImpactScore   float64 `bson:"impact_score" json:"impact_score"`
	TotalEarnings float64 `bson:"total_earnings" json:"total_earnings"`
	TotalSavings  float64 `bson:"total_savings" json:"total_savings"`
	ItemsSold     int     `bson:"items_sold" json:"items_sold"`
	ItemsBought   int     `bson:"items_bought" json:"items_bought"`
}

// User represents an account plus its public profile. Profile fields are
// filled in lazily the first time the profile is viewed.
type User struct {
	Base         `bson:",inline"`
	Email        string      `bson:"email" json:"email"`
	PasswordHash string      `bson:"password" json:"-"` // Store hash, not plaintext
	DisplayName  string      `bson:"display_name" json:"display_name"`
	AvatarKey    string      `bson:"avatar_key,omitempty" json:"avatar_key,omitempty"` // S3 key in the avatars bucket
	Bio          string      `bson:"bio,omitempty" json:"bio,omitempty"`
	Location     string      `bson:"location,omitempty" json:"location,omitempty"`
	Impact       ImpactStats `bson:"impact" json:"impact"`
	Onboarded    bool        `bson:"onboarded" json:"onboarded"`
	CreatedAt    time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `bson:"updated_at" json:"updated_at"`
	Deleted      bool        `bson:"deleted" json:"-"` // Soft delete flag
}
