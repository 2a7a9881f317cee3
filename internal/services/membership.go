package services

import (
	"context"
	"strings"

	"hearth/internal/core"
)

// StaticMembership resolves split participants from a fixed roster loaded
// at startup. Each member maps to the personal account that funds their
// share of household splits.
type StaticMembership struct {
	members map[string]Member
}

// Member is one roster entry: the funding account a user's split shares
// are debited from, and the household the account belongs to.
type Member struct {
	UserID      string
	AccountID   string
	HouseholdID string
}

func NewStaticMembership(members []Member) *StaticMembership {
	byUser := make(map[string]Member, len(members))
	for _, m := range members {
		byUser[m.UserID] = m
	}
	return &StaticMembership{members: byUser}
}

// ParseMembers reads a roster from its textual form: comma-separated
// "user:accountID:householdID" entries. An empty string yields an empty
// roster; malformed entries are rejected.
func ParseMembers(s string) ([]Member, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var members []Member
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, core.BadRequestf("malformed member entry %q, want user:accountID:householdID", entry)
		}
		members = append(members, Member{
			UserID:      parts[0],
			AccountID:   parts[1],
			HouseholdID: parts[2],
		})
	}
	return members, nil
}

func (m *StaticMembership) FundingAccount(_ context.Context, userID string) (string, string, error) {
	member, ok := m.members[userID]
	if !ok {
		return "", "", core.Forbiddenf("user %s has no eligible shared account", userID)
	}
	return member.AccountID, member.HouseholdID, nil
}
