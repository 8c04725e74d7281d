package models

import "time"

// LicenseKey is a single-use product key gating account creation.
// Once IsUsed is true, UsedBy and UsedAt are set and never change.
type LicenseKey struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	ProductID   string     `json:"product_id"`
	ProductName string     `json:"product_name"`
	IsActive    bool       `json:"is_active"`
	IsUsed      bool       `json:"is_used"`
	UsedBy      *string    `json:"used_by,omitempty"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsAvailable reports whether the key can still be consumed
func (k LicenseKey) IsAvailable() bool {
	return k.IsActive && !k.IsUsed
}

// LicenseKeyWithConsumer is a license key joined with the email of the
// account that consumed it, if any.
type LicenseKeyWithConsumer struct {
	LicenseKey
	UsedByEmail *string `json:"used_by_email,omitempty"`
}

// LicenseKeyProvision is one entry of an administrative batch import
type LicenseKeyProvision struct {
	Key         string `json:"key" yaml:"key"`
	ProductName string `json:"product_name" yaml:"product_name"`
	ProductID   string `json:"product_id,omitempty" yaml:"product_id,omitempty"`
}

// LicenseStats summarises the key pool
type LicenseStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Used      int `json:"used"`
	Available int `json:"available"`
	Inactive  int `json:"inactive"`
}

// ProvisionFailure is an entry of a batch import that could not be stored
type ProvisionFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ProvisionReport summarises a batch import
type ProvisionReport struct {
	Added   []string           `json:"added"`
	Skipped []string           `json:"skipped"` // already present
	Failed  []ProvisionFailure `json:"failed"`
}

// KeyStatus is the public view of a key's availability
type KeyStatus struct {
	Key         string `json:"key"`
	ProductName string `json:"product_name"`
	IsActive    bool   `json:"is_active"`
	IsUsed      bool   `json:"is_used"`
	Available   bool   `json:"available"`
}
