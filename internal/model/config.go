package model

import (
	"strings"
	"time"
)

// Environment selects the authority environment a profile talks to
type Environment string

const (
	EnvironmentStaging    Environment = "STAGING"
	EnvironmentProduction Environment = "PRODUCTION"
)

// Valid reports whether e is a known environment
func (e Environment) Valid() bool {
	return e == EnvironmentStaging || e == EnvironmentProduction
}

// WireCode returns the authority's tpAmb code (1 production, 2 staging)
func (e Environment) WireCode() string {
	if e == EnvironmentProduction {
		return "1"
	}
	return "2"
}

// ParseEnvironment accepts the enum names and common aliases
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PRODUCTION", "PROD", "1":
		return EnvironmentProduction, nil
	case "STAGING", "HOMOLOGATION", "HOM", "2":
		return EnvironmentStaging, nil
	default:
		return "", NewValidationError("environment", s, "enum", "unknown environment")
	}
}

// InitialCursor is the cursor of a profile that never consumed a page
const InitialCursor = "0"

// IntegrationConfig is the integration profile of one taxpayer
type IntegrationConfig struct {
	ID                 int64       `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	TaxpayerID         string      `json:"taxpayer_id" gorm:"size:14;index;not null"`
	CredentialRef      string      `json:"credential_ref" gorm:"not null"`
	Jurisdiction       string      `json:"jurisdiction" gorm:"size:2;not null"`
	Environment        Environment `json:"environment" gorm:"size:16;not null"`
	Active             bool        `json:"active" gorm:"index"`
	LastSequenceNumber string      `json:"last_sequence_number" gorm:"size:20;not null"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// TableName overrides the gorm table name
func (IntegrationConfig) TableName() string {
	return "integration_configs"
}

// Validate checks the fields an administrator must supply
func (c *IntegrationConfig) Validate() error {
	digits := strings.TrimSpace(c.TaxpayerID)
	if len(digits) != 11 && len(digits) != 14 {
		return NewValidationError("taxpayer_id", c.TaxpayerID, "length", "taxpayer id must have 11 or 14 digits")
	}
	if !isDigits(digits) {
		return NewValidationError("taxpayer_id", c.TaxpayerID, "digits", "taxpayer id must be numeric")
	}
	if strings.TrimSpace(c.CredentialRef) == "" {
		return NewValidationError("credential_ref", c.CredentialRef, "required", "credential reference is required")
	}
	if len(c.Jurisdiction) != 2 || !isDigits(c.Jurisdiction) {
		return NewValidationError("jurisdiction", c.Jurisdiction, "format", "jurisdiction must be a two digit code")
	}
	if !c.Environment.Valid() {
		return NewValidationError("environment", c.Environment, "enum", "unknown environment")
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
