package models

import "time"

// MemberStatus is the role a person holds inside an organization.
type MemberStatus string

const (
	StatusFullProfessor      MemberStatus = "full_professor"
	StatusAssociateProfessor MemberStatus = "associate_professor"
	StatusResearcher         MemberStatus = "researcher"
	StatusPostdoc            MemberStatus = "postdoc"
	StatusPhDStudent         MemberStatus = "phd_student"
	StatusMasterStudent      MemberStatus = "master_student"
	StatusEngineer           MemberStatus = "engineer"
	StatusAssociateMember    MemberStatus = "associate_member"
)

// Membership is a time-bounded relation between one person and one organization.
// Either date bound may be nil, meaning "since forever" / "until forever".
// The (person, organization, status, start, end) tuple is the natural key.
type Membership struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PersonID       uint          `json:"person_id" gorm:"index;not null"`
	Person         *Person       `json:"-" gorm:"foreignKey:PersonID"`
	OrganizationID uint          `json:"organization_id" gorm:"index;not null"`
	Organization   *Organization `json:"-" gorm:"foreignKey:OrganizationID"`

	Status    MemberStatus `json:"status" gorm:"index"`
	StartDate *time.Time   `json:"start_date,omitempty"`
	EndDate   *time.Time   `json:"end_date,omitempty"`

	// CNU/CoNRS style discipline section number, when known.
	DisciplineCode *int `json:"discipline_code,omitempty"`
}

// TableName sets the explicit table name for GORM.
func (Membership) TableName() string {
	return "memberships"
}

// ActiveAt reports whether the membership covers the given instant.
// Open bounds always match on their side; this is derived, never stored.
func (m *Membership) ActiveAt(t time.Time) bool {
	if m.StartDate != nil && t.Before(*m.StartDate) {
		return false
	}
	if m.EndDate != nil && t.After(*m.EndDate) {
		return false
	}
	return true
}

// Active reports whether the membership is active now.
func (m *Membership) Active() bool {
	return m.ActiveAt(time.Now())
}
