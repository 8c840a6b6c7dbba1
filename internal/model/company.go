// Package model defines the value objects that flow through the outreach pipeline.
package model

// LocationRemote is the location label recorded for companies found
// through the remote listing sweep.
const LocationRemote = "remote"

// CompanySummary is one company card read from a listings page.
type CompanySummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Size        string `json:"size"` // raw range text, e.g. "11-50" or "10000+"
	JobType     string `json:"job_type"`
	Location    string `json:"location"`
	ProfilePath string `json:"profile_path,omitempty"` // detail page link as found on the card
}

// CompanyProfile is a summary enriched with the company's website.
type CompanyProfile struct {
	CompanySummary
	Website string `json:"website,omitempty"`
}

// HasWebsite reports whether the profile can proceed to contact resolution.
func (p *CompanyProfile) HasWebsite() bool {
	return p != nil && p.Website != ""
}

// Contact is the person resolved from the contact directory. Either field
// may be empty.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Usable reports whether the contact can be emailed.
func (c Contact) Usable() bool {
	return c.Email != ""
}
