package model

import "time"

type Companion struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Subject    string    `db:"subject" json:"subject"`
	Topic      string    `db:"topic" json:"topic"`
	Duration   int       `db:"duration" json:"duration"`
	Style      string    `db:"style" json:"style"`
	Voice      string    `db:"voice" json:"voice"`
	Author     string    `db:"author" json:"author"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	Bookmarked bool      `db:"-" json:"bookmarked"`
}

// Complete reports whether the record carries everything a session page needs.
func (c *Companion) Complete() bool {
	return c.Name != "" && c.Subject != "" && c.Topic != ""
}

// CompanionSummary is the directory listing projection.
type CompanionSummary struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Subject    string    `db:"subject" json:"subject"`
	Topic      string    `db:"topic" json:"topic"`
	Duration   int       `db:"duration" json:"duration"`
	Author     string    `db:"author" json:"author"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	Bookmarked bool      `db:"-" json:"bookmarked"`
}

type CreateCompanionParams struct {
	Name     string
	Subject  string
	Topic    string
	Duration int
	Style    string
	Voice    string
	Author   string
}

// CompanionFilter selects directory rows. Page is 1-based.
type CompanionFilter struct {
	Subject string
	Topic   string
	Page    int
	Limit   int
}

// Offset is the first row of the half-open page range [(page-1)*limit, page*limit).
func (f CompanionFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}
