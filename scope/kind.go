package scope

import (
	"fmt"
	"strings"
)

// Kind identifies a permission scope. The set of kinds is closed; adding one
// requires extending Parse and every switch in this file.
type Kind int

const (
	// KindAdmin grants every action on every resource.
	KindAdmin Kind = iota + 1
)

// String returns the scope token prefix for the kind.
func (k Kind) String() string {
	switch k {
	case KindAdmin:
		return "admin"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Resource is the type of record a permission applies to.
type Resource int

const (
	ResourceUser Resource = iota + 1
	ResourceClient
)

func (r Resource) String() string {
	switch r {
	case ResourceUser:
		return "user"
	case ResourceClient:
		return "client"
	default:
		return fmt.Sprintf("Resource(%d)", int(r))
	}
}

// Action is the operation attempted on a resource.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionRead
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionRead:
		return "read"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Permission is a parsed permission scope token of the form
// "<kind>" or "<kind>:<modifiers>".
type Permission struct {
	Kind      Kind
	Modifiers string
}

// ParseError is returned when a token does not name a known scope kind.
type ParseError struct {
	Scope string
	Kind  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("scope %q: unknown scope type %q", e.Scope, e.Kind)
}

// Parse parses a single permission scope token.
func Parse(token string) (Permission, error) {
	kind, modifiers, _ := strings.Cut(token, ":")

	switch kind {
	case "admin":
		return Permission{Kind: KindAdmin, Modifiers: modifiers}, nil
	default:
		return Permission{}, &ParseError{Scope: token, Kind: kind}
	}
}

// String renders the permission back to its token form.
func (p Permission) String() string {
	if p.Modifiers == "" {
		return p.Kind.String()
	}
	return p.Kind.String() + ":" + p.Modifiers
}

// Allows reports whether the permission grants action on resource.
func (p Permission) Allows(resource Resource, action Action) bool {
	switch p.Kind {
	case KindAdmin:
		return true
	default:
		return false
	}
}

// HasPermission reports whether any permission scope in granted allows action
// on resource. Tokens that are not permission scopes grant nothing.
func HasPermission(granted string, resource Resource, action Action) bool {
	for _, tok := range Split(granted) {
		perm, err := Parse(tok)
		if err != nil {
			continue
		}
		if perm.Allows(resource, action) {
			return true
		}
	}
	return false
}
