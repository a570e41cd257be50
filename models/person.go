package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Person is a researcher or former researcher of the laboratory.
// The (first name, last name) pair is treated as the natural key; comparison is
// case-insensitive but diacritics are deliberately not folded.
type Person struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FirstName string `json:"first_name" gorm:"index:idx_persons_name;not null"`
	LastName  string `json:"last_name" gorm:"index:idx_persons_name;not null"`
	Email     string `json:"email,omitempty"`

	// Public profile identifiers.
	ORCID           string `json:"orcid,omitempty" gorm:"column:orcid;index"`
	ResearcherID    string `json:"researcher_id,omitempty"`
	GoogleScholarID string `json:"google_scholar_id,omitempty"`

	// Additional profile links and metrics, kept as free-form JSON.
	ProfileLinks datatypes.JSON `json:"profile_links,omitempty" gorm:"type:jsonb"`

	Memberships []Membership `json:"-" gorm:"foreignKey:PersonID"`
	Authorships []Authorship `json:"-" gorm:"foreignKey:PersonID"`
}

// TableName sets the explicit table name for GORM.
func (Person) TableName() string {
	return "persons"
}

// FullName returns "First Last" with surrounding whitespace trimmed.
func (p *Person) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}
