package membership

import (
	"strconv"
	"strings"
)

// =============================================================================
// IDENTITY - Stable person key across snapshot rows
// =============================================================================

// PersonKey derives the identity used to deduplicate a person across rows.
//
// Priority: national id ("D:"), lower-cased email ("E:"), phone ("T:"). A row
// with none of them gets "I:"+id and never matches another row.
func PersonKey(m MemberSnapshot) string {
	if id := strings.TrimSpace(m.NationalID); id != "" {
		return "D:" + id
	}
	if email := normalizeEmail(m.Email); email != "" {
		return "E:" + email
	}
	if phone := strings.TrimSpace(m.Phone); phone != "" {
		return "T:" + phone
	}
	return "I:" + strconv.FormatInt(int64(m.ID), 10)
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// cloneIdentity tracks which people were already written during one rollover.
// It matches on national id or email only, the same two fields the clone
// guard has always used; phone-only people rely on PersonKey grouping.
type cloneIdentity struct {
	nationalIDs map[string]struct{}
	emails      map[string]struct{}
}

func newCloneIdentity() *cloneIdentity {
	return &cloneIdentity{
		nationalIDs: make(map[string]struct{}),
		emails:      make(map[string]struct{}),
	}
}

func (ci *cloneIdentity) seen(m MemberSnapshot) bool {
	if id := strings.TrimSpace(m.NationalID); id != "" {
		if _, ok := ci.nationalIDs[id]; ok {
			return true
		}
	}
	if email := normalizeEmail(m.Email); email != "" {
		if _, ok := ci.emails[email]; ok {
			return true
		}
	}
	return false
}

func (ci *cloneIdentity) add(m MemberSnapshot) {
	if id := strings.TrimSpace(m.NationalID); id != "" {
		ci.nationalIDs[id] = struct{}{}
	}
	if email := normalizeEmail(m.Email); email != "" {
		ci.emails[email] = struct{}{}
	}
}
