package models

// Principal is the identity the identity provider vouched for. It lives for a
// single request and is never persisted by this service.
type Principal struct {
	ID       string                 `json:"id"`
	Email    string                 `json:"email"`
	Role     string                 `json:"role,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Identity is the outcome of authenticating a request: either anonymous or a
// verified principal. The zero value is anonymous.
type Identity struct {
	principal *Principal
}

func Anonymous() Identity {
	return Identity{}
}

// Authenticated wraps p. A principal without an ID is treated as anonymous.
func Authenticated(p Principal) Identity {
	if p.ID == "" {
		return Identity{}
	}
	return Identity{principal: &p}
}

// Principal returns a copy of the verified principal and true, or the zero
// value and false for anonymous callers.
func (i Identity) Principal() (Principal, bool) {
	if i.principal == nil {
		return Principal{}, false
	}
	return *i.principal, true
}

func (i Identity) IsAnonymous() bool {
	return i.principal == nil
}

func (i Identity) String() string {
	if i.principal == nil {
		return "anonymous"
	}
	return "principal:" + i.principal.ID
}
