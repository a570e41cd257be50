package models

import "time"

// Organization is a research organization (laboratory, department, university).
// The (acronym, name) pair is the natural key used by the snapshot importer.
type Organization struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Acronym string `json:"acronym" gorm:"uniqueIndex"`
	Name    string `json:"name" gorm:"uniqueIndex;not null"`
	Address string `json:"address,omitempty"`
	Country string `json:"country,omitempty"`

	// At most one parent; the super/sub relation must stay acyclic.
	SuperOrganizationID *uint          `json:"super_organization_id,omitempty" gorm:"index"`
	SuperOrganization   *Organization  `json:"-" gorm:"foreignKey:SuperOrganizationID"`
	SubOrganizations    []Organization `json:"-" gorm:"foreignKey:SuperOrganizationID"`

	Memberships []Membership `json:"-" gorm:"foreignKey:OrganizationID"`
}

// TableName sets the explicit table name for GORM.
func (Organization) TableName() string {
	return "research_organizations"
}
