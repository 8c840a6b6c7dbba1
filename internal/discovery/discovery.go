// Package discovery reads company cards from job listing pages, filters
// out companies that should not be contacted, and resolves each
// survivor's website from its profile page.
package discovery

import (
	"context"
	"net/url"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SeenChecker answers whether a company is already recorded. store.Ledger
// satisfies it.
type SeenChecker interface {
	Exists(ctx context.Context, table model.Table, name string) bool
}

// Query is one listings search: a role in a location, or a role in the
// remote sweep when Location is model.LocationRemote.
type Query struct {
	Role     string
	Location string
}

// Remote reports whether q is a remote sweep query.
func (q Query) Remote() bool { return q.Location == model.LocationRemote }

// URL returns the listings page for q under base, e.g.
// https://wellfound.com/role/l/data-science/san-diego or
// https://wellfound.com/role/r/data-science.
func (q Query) URL(base string) string {
	base = strings.TrimRight(base, "/")
	role := slug(q.Role)
	if q.Remote() {
		return base + "/role/r/" + role
	}
	return base + "/role/l/" + role + "/" + slug(q.Location)
}

// Queries expands roles and locations into the listing order: every
// role in every location, then every role remote.
func Queries(roles, locations []string, includeRemote bool) []Query {
	var qs []Query
	for _, role := range roles {
		for _, loc := range locations {
			qs = append(qs, Query{Role: role, Location: loc})
		}
	}
	if includeRemote {
		for _, role := range roles {
			qs = append(qs, Query{Role: role, Location: model.LocationRemote})
		}
	}
	return qs
}

func slug(s string) string {
	return url.PathEscape(strings.Join(strings.Fields(strings.ToLower(s)), "-"))
}

// Stats counts what one Collect call saw.
type Stats struct {
	Queries  int            `json:"queries"`
	Cards    int            `json:"cards"`
	Emitted  int            `json:"emitted"`
	Rejected map[string]int `json:"rejected"`
}

func (s *Stats) reject(reason string) {
	if s.Rejected == nil {
		s.Rejected = make(map[string]int)
	}
	s.Rejected[reason]++
}
