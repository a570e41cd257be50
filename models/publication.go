package models

import "time"

// Publication is a published scientific result with an ordered author list.
// The (title, year) pair is the natural key used by the snapshot importer.
type Publication struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title string `json:"title" gorm:"index;not null"`
	Year  int    `json:"year" gorm:"index"`
	DOI   string `json:"doi,omitempty" gorm:"column:doi;index"`

	JournalID *uint    `json:"journal_id,omitempty" gorm:"index"`
	Journal   *Journal `json:"-" gorm:"foreignKey:JournalID"`

	// Attachment paths, relative to the upload directory. Empty when absent.
	PathToPDF   string `json:"path_to_pdf,omitempty" gorm:"column:path_to_pdf"`
	PathToAward string `json:"path_to_award,omitempty" gorm:"column:path_to_award"`

	Authorships []Authorship `json:"authorships,omitempty" gorm:"foreignKey:PublicationID"`
}

// TableName sets the explicit table name for GORM.
func (Publication) TableName() string {
	return "publications"
}

// Authorship is the ranked link between one person and one publication.
// Ranks are kept contiguous (0..n-1); every edit of the author list renumbers.
type Authorship struct {
	ID            uint         `json:"id" gorm:"primaryKey"`
	PublicationID uint         `json:"publication_id" gorm:"index:idx_authorship,unique;not null"`
	Publication   *Publication `json:"-" gorm:"foreignKey:PublicationID"`
	PersonID      uint         `json:"person_id" gorm:"index:idx_authorship,unique;not null"`
	Person        *Person      `json:"-" gorm:"foreignKey:PersonID"`

	AuthorRank int `json:"author_rank" gorm:"not null"`
}

// TableName sets the explicit table name for GORM.
func (Authorship) TableName() string {
	return "authorships"
}
