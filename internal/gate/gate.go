// Package gate decides whether an authenticated user may enter a hub.
package gate

import (
	"database/sql"
	"errors"

	"github.com/hubchat/hubchat/internal/auth"
	"github.com/hubchat/hubchat/internal/database"
)

type MembershipGate struct {
	db database.HubChatRepository
}

func NewMembershipGate(db database.HubChatRepository) *MembershipGate {
	return &MembershipGate{db: db}
}

// IsAdmitted reports whether identity is the hub's admin or an
// approved member. It reads current state on every call; callers must
// not cache the result across admission decisions.
func (g *MembershipGate) IsAdmitted(identity auth.Identity, hubId int) (bool, error) {
	hub, err := g.db.GetHubById(hubId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if hub.AdminId == identity.Id {
		return true, nil
	}

	return g.db.IsApprovedMember(identity.Id, hubId)
}
