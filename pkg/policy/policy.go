// Package policy decides whether an authenticated actor may perform an action
// on a target. It never touches storage and never returns an error: anything
// it cannot evaluate is denied.
package policy

import (
	"strings"

	"docchat/pkg/domain"
)

type Action string

const (
	ActionReadDocument      Action = "document.read"
	ActionDeleteDocument    Action = "document.delete"
	ActionCreateDocument    Action = "document.create"
	ActionPostChat          Action = "chat.post"
	ActionListUsers         Action = "user.list"
	ActionListUserDocuments Action = "user.documents.list"
	ActionDeleteUser        Action = "user.delete"
	ActionProvisionAdmin    Action = "admin.provision"
)

type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

// Actor is the identity performing a request.
type Actor struct {
	UserID string
	Email  string
	Role   domain.UserRole
}

// ActorFromSession builds an Actor from validated session claims.
func ActorFromSession(s domain.Session) Actor {
	return Actor{UserID: s.UserID, Email: s.Email, Role: s.Role}
}

// Target describes the entity being acted on. Document actions read
// OwnerUserID; user actions read UserID, Email and Role.
type Target struct {
	OwnerUserID string
	UserID      string
	Email       string
	Role        domain.UserRole
}

// DocumentTarget returns the target for a document-scoped action.
func DocumentTarget(doc domain.Document) Target {
	return Target{OwnerUserID: doc.OwnerID}
}

// UserTarget returns the target for a user-scoped action.
func UserTarget(u domain.User) Target {
	return Target{UserID: u.ID, Email: u.Email, Role: u.Role}
}

// Policy holds the root-admin identity the rules depend on.
type Policy struct {
	rootAdminEmail string
}

// New builds a Policy for the configured root-admin email.
func New(rootAdminEmail string) *Policy {
	return &Policy{rootAdminEmail: strings.ToLower(strings.TrimSpace(rootAdminEmail))}
}

// RootAdminEmail returns the normalized root-admin email.
func (p *Policy) RootAdminEmail() string {
	return p.rootAdminEmail
}

// IsRootAdmin reports whether email identifies the root admin.
func (p *Policy) IsRootAdmin(email string) bool {
	if p == nil || p.rootAdminEmail == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(email), p.rootAdminEmail)
}

// Authorize evaluates the decision table for one request.
func (p *Policy) Authorize(actor Actor, action Action, target Target) Decision {
	if p == nil || !validActor(actor) {
		return Deny
	}
	switch action {
	case ActionReadDocument, ActionDeleteDocument:
		if target.OwnerUserID == "" {
			return Deny
		}
		return Decision(target.OwnerUserID == actor.UserID || actor.Role == domain.RoleAdmin)
	case ActionPostChat:
		if target.OwnerUserID == "" {
			return Deny
		}
		return Decision(target.OwnerUserID == actor.UserID)
	case ActionCreateDocument:
		return Allow
	case ActionListUsers, ActionListUserDocuments:
		return Decision(actor.Role == domain.RoleAdmin)
	case ActionDeleteUser:
		return p.authorizeDeleteUser(actor, target)
	case ActionProvisionAdmin:
		return Decision(p.IsRootAdmin(actor.Email))
	default:
		return Deny
	}
}

func (p *Policy) authorizeDeleteUser(actor Actor, target Target) Decision {
	if target.UserID == "" || !target.Role.Valid() {
		return Deny
	}
	// Root protection wins over every other rule, including root acting on itself.
	if p.IsRootAdmin(target.Email) {
		return Deny
	}
	if actor.Role != domain.RoleAdmin {
		return Deny
	}
	if target.Role == domain.RoleAdmin {
		return Decision(p.IsRootAdmin(actor.Email))
	}
	return Allow
}

func validActor(actor Actor) bool {
	return strings.TrimSpace(actor.UserID) != "" && actor.Role.Valid()
}
