package discovery

import (
	"context"
	"strconv"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Rejection reason codes.
const (
	ReasonIncomplete     = "incomplete_card"
	ReasonUnreadable     = "unreadable_card"
	ReasonDuplicate      = "duplicate_in_batch"
	ReasonSizeTooLarge   = "size_too_large"
	ReasonSizeUnparsable = "size_unparsable"
	ReasonAlreadySeen    = "already_seen"
)

// SizeAllowed applies the company size policy to a displayed size range
// such as "11-50" or "10000+". Open-ended ranges and ranges whose lower
// bound exceeds max are rejected, as is anything unparsable.
func SizeAllowed(size string, max int) (bool, string) {
	size = strings.TrimSpace(size)
	if strings.Contains(size, "+") {
		return false, ReasonSizeTooLarge
	}
	lower, _, _ := strings.Cut(size, "-")
	fields := strings.Fields(strings.ReplaceAll(lower, ",", ""))
	if len(fields) == 0 {
		return false, ReasonSizeUnparsable
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return false, ReasonSizeUnparsable
	}
	if n > max {
		return false, ReasonSizeTooLarge
	}
	return true, ""
}

// Filter applies the per-card checks in order: batch duplicate, size,
// then already seen. It remembers every name it is shown for the life of
// one batch.
type Filter struct {
	maxSize int
	seen    SeenChecker
	names   map[string]struct{}
}

// NewFilter creates a Filter for one batch.
func NewFilter(maxSize int, seen SeenChecker) *Filter {
	return &Filter{maxSize: maxSize, seen: seen, names: make(map[string]struct{})}
}

// Check reports whether s should be emitted, and the reason when not.
func (f *Filter) Check(ctx context.Context, s model.CompanySummary) (bool, string) {
	if _, dup := f.names[s.Name]; dup {
		return false, ReasonDuplicate
	}
	f.names[s.Name] = struct{}{}

	if ok, reason := SizeAllowed(s.Size, f.maxSize); !ok {
		return false, reason
	}

	if f.seen != nil && f.seen.Exists(ctx, model.TableSeen, s.Name) {
		return false, ReasonAlreadySeen
	}
	return true, ""
}
