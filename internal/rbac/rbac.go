// Package rbac holds the role/action authorization matrix. Ownership
// checks (a user touching their own batch) stay in the app layer; this
// package only answers what a role may do at all.
package rbac

type Role string
type Action string

const (
	RoleAnonymous Role = "anonymous"
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
)

const (
	// ActionRead covers the public surface: phrases, issues, search.
	ActionRead Action = "read"
	// ActionContribute covers issue posts and a user's own batches and edits.
	ActionContribute Action = "contribute"
	// ActionReview covers approving and rejecting submitted batches.
	ActionReview Action = "review"
	// ActionSync covers creating, cancelling and retrying sync tasks.
	ActionSync Action = "sync"
	// ActionAdmin covers user administration.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionContribute
	case RoleAnonymous:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleAnonymous
	}
}
