package models

import "time"

// Journal is a scientific journal; the name is the natural key.
type Journal struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name      string `json:"name" gorm:"uniqueIndex;not null"`
	Publisher string `json:"publisher,omitempty"`
	ISSN      string `json:"issn,omitempty" gorm:"column:issn"`

	QualityIndicators []JournalQualityIndicators `json:"quality_indicators,omitempty" gorm:"foreignKey:JournalID"`
}

// TableName sets the explicit table name for GORM.
func (Journal) TableName() string {
	return "journals"
}

// IndicatorsFor returns the indicator record for the given year, or nil.
func (j *Journal) IndicatorsFor(year int) *JournalQualityIndicators {
	for i := range j.QualityIndicators {
		if j.QualityIndicators[i].Year == year {
			return &j.QualityIndicators[i]
		}
	}
	return nil
}

// JournalQualityIndicators stores the external ranking metrics of a journal for
// one calendar year. At most one record exists per (journal, year); the importer
// merges Scimago quartile, WoS quartile and impact factor into the same record
// even when they arrive separately.
type JournalQualityIndicators struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	JournalID uint `json:"journal_id" gorm:"index:idx_journal_year,unique;not null"`
	Year      int  `json:"year" gorm:"index:idx_journal_year,unique;not null"`

	ScimagoQuartile string   `json:"scimago_quartile,omitempty"`
	WosQuartile     string   `json:"wos_quartile,omitempty"`
	ImpactFactor    *float64 `json:"impact_factor,omitempty"`
}

// TableName sets the explicit table name for GORM.
func (JournalQualityIndicators) TableName() string {
	return "journal_quality_indicators"
}

// Empty reports whether no indicator value is present at all. Empty records are
// never created; the history entry exists only when at least one value is known.
func (q *JournalQualityIndicators) Empty() bool {
	return q.ScimagoQuartile == "" && q.WosQuartile == "" && q.ImpactFactor == nil
}
