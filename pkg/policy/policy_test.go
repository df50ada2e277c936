package policy

import (
	"testing"

	"docchat/pkg/domain"
)

const rootEmail = "admin@test.com"

var (
	root      = Actor{UserID: "root", Email: rootEmail, Role: domain.RoleAdmin}
	adminA    = Actor{UserID: "admin-a", Email: "a@corp.com", Role: domain.RoleAdmin}
	alice     = Actor{UserID: "alice", Email: "alice@x.com", Role: domain.RoleUser}
	bob       = Actor{UserID: "bob", Email: "bob@x.com", Role: domain.RoleUser}
	rootUser  = Target{UserID: "root", Email: rootEmail, Role: domain.RoleAdmin}
	adminAT   = Target{UserID: "admin-a", Email: "a@corp.com", Role: domain.RoleAdmin}
	adminBT   = Target{UserID: "admin-b", Email: "b@corp.com", Role: domain.RoleAdmin}
	aliceUser = Target{UserID: "alice", Email: "alice@x.com", Role: domain.RoleUser}
	aliceDoc  = Target{OwnerUserID: "alice"}
)

func TestAuthorizeDecisionTable(t *testing.T) {
	p := New(rootEmail)
	tests := []struct {
		name   string
		actor  Actor
		action Action
		target Target
		want   Decision
	}{
		{"owner reads own document", alice, ActionReadDocument, aliceDoc, Allow},
		{"other user cannot read document", bob, ActionReadDocument, aliceDoc, Deny},
		{"admin reads any document", adminA, ActionReadDocument, aliceDoc, Allow},
		{"owner deletes own document", alice, ActionDeleteDocument, aliceDoc, Allow},
		{"other user cannot delete document", bob, ActionDeleteDocument, aliceDoc, Deny},
		{"admin deletes any document", adminA, ActionDeleteDocument, aliceDoc, Allow},
		{"owner posts chat", alice, ActionPostChat, aliceDoc, Allow},
		{"admin cannot post chat on foreign document", adminA, ActionPostChat, aliceDoc, Deny},
		{"other user cannot post chat", bob, ActionPostChat, aliceDoc, Deny},
		{"any user creates document", bob, ActionCreateDocument, Target{}, Allow},
		{"user cannot list users", alice, ActionListUsers, Target{}, Deny},
		{"admin lists users", adminA, ActionListUsers, Target{}, Allow},
		{"user cannot list user documents", alice, ActionListUserDocuments, aliceUser, Deny},
		{"admin lists user documents", adminA, ActionListUserDocuments, aliceUser, Allow},
		{"admin deletes plain user", adminA, ActionDeleteUser, aliceUser, Allow},
		{"user cannot delete user", bob, ActionDeleteUser, aliceUser, Deny},
		{"non-root admin cannot delete admin", adminA, ActionDeleteUser, adminBT, Deny},
		{"non-root admin cannot delete self", adminA, ActionDeleteUser, adminAT, Deny},
		{"root deletes non-root admin", root, ActionDeleteUser, adminAT, Allow},
		{"root cannot delete root", root, ActionDeleteUser, rootUser, Deny},
		{"admin cannot delete root", adminA, ActionDeleteUser, rootUser, Deny},
		{"root provisions admin", root, ActionProvisionAdmin, Target{}, Allow},
		{"non-root admin cannot provision admin", adminA, ActionProvisionAdmin, Target{}, Deny},
		{"user cannot provision admin", alice, ActionProvisionAdmin, Target{}, Deny},
		{"unknown action denied", root, Action("bogus"), Target{}, Deny},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Authorize(tc.actor, tc.action, tc.target); got != tc.want {
				t.Fatalf("Authorize(%s) = %v, want %v", tc.action, got, tc.want)
			}
		})
	}
}

func TestAuthorizeDeniesMalformedInput(t *testing.T) {
	p := New(rootEmail)
	if p.Authorize(Actor{}, ActionCreateDocument, Target{}) != Deny {
		t.Fatalf("expected empty actor to be denied")
	}
	if p.Authorize(Actor{UserID: "x", Role: "superuser"}, ActionListUsers, Target{}) != Deny {
		t.Fatalf("expected unknown role to be denied")
	}
	if p.Authorize(alice, ActionReadDocument, Target{}) != Deny {
		t.Fatalf("expected document target without owner to be denied")
	}
	if p.Authorize(root, ActionDeleteUser, Target{UserID: "x"}) != Deny {
		t.Fatalf("expected user target without role to be denied")
	}
	var nilPolicy *Policy
	if nilPolicy.Authorize(root, ActionListUsers, Target{}) != Deny {
		t.Fatalf("expected nil policy to deny")
	}
}

func TestRootAdminMatchIsCaseInsensitive(t *testing.T) {
	p := New("  Admin@Test.com ")
	if !p.IsRootAdmin("ADMIN@test.COM") {
		t.Fatalf("expected case-insensitive root match")
	}
	if p.Authorize(root, ActionDeleteUser, Target{UserID: "r", Email: "ADMIN@TEST.COM", Role: domain.RoleAdmin}) != Deny {
		t.Fatalf("expected root protection regardless of email case")
	}
	if New("").IsRootAdmin("") {
		t.Fatalf("empty root email must never match")
	}
}
