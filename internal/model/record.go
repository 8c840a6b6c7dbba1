package model

import (
	"time"
)

// Table names a persisted relation.
type Table string

const (
	TableSeen  Table = "companies_seen"
	TableSent  Table = "companies_sent"
	TableRetry Table = "companies_retry"
)

// SentStatus is the lifecycle label stored on a SentRecord.
type SentStatus string

const (
	SentStatusPending SentStatus = "Pending"
)

// DateLayout is the calendar date format used for date_seen and date_sent.
const DateLayout = "2006-01-02"

// Record is a row that can be written with insert-if-absent semantics.
type Record interface {
	Table() Table
	Key() string
}

// SeenRecord marks a company as discovered. Written once per company name.
type SeenRecord struct {
	CompanyProfile
	DateSeen time.Time `json:"date_seen"`
}

func (r SeenRecord) Table() Table { return TableSeen }
func (r SeenRecord) Key() string  { return r.Name }

// NewSeenRecord stamps a profile with the current date.
func NewSeenRecord(p CompanyProfile, now time.Time) SeenRecord {
	return SeenRecord{CompanyProfile: p, DateSeen: truncateDay(now)}
}

// SentRecord marks a company as emailed.
type SentRecord struct {
	CompanyProfile
	ContacteeName string     `json:"contactee_name"`
	Status        SentStatus `json:"status"`
	ContactName   string     `json:"contact_name"`
	Email         string     `json:"email"`
	DateSent      time.Time  `json:"date_sent"`
}

func (r SentRecord) Table() Table { return TableSent }
func (r SentRecord) Key() string  { return r.Name }

// NewSentRecord builds a pending SentRecord. email is the address the
// message actually went to, which differs from contact.Email in test mode.
func NewSentRecord(p CompanyProfile, contact Contact, email, contactee string, now time.Time) SentRecord {
	return SentRecord{
		CompanyProfile: p,
		ContacteeName:  contactee,
		Status:         SentStatusPending,
		ContactName:    contact.Name,
		Email:          email,
		DateSent:       truncateDay(now),
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
