package ir

// PublicSubject is the ACL subject matching every caller.
const PublicSubject = "*"

// RolePrefix prefixes role subjects in ACLs and subject lists.
const RolePrefix = "role:"

// ACL is the decoded form of a row's access map.
type ACL map[string]Access

// Access is the permission pair granted to one ACL subject.
type Access struct {
	Read  bool
	Write bool
}

// ParseACL decodes an ACL value. Unknown shapes decode to an empty ACL.
func ParseACL(v any) ACL {
	raw, ok := v.(map[string]any)
	if !ok {
		return ACL{}
	}
	acl := make(ACL, len(raw))
	for subject, perms := range raw {
		p, ok := perms.(map[string]any)
		if !ok {
			continue
		}
		read, _ := p["read"].(bool)
		write, _ := p["write"].(bool)
		acl[subject] = Access{Read: read, Write: write}
	}
	return acl
}

// Value encodes the ACL in wire format. False grants are written explicitly.
func (a ACL) Value() Object {
	out := make(Object, len(a))
	for subject, access := range a {
		out[subject] = map[string]any{"read": access.Read, "write": access.Write}
	}
	return out
}

// CanRead reports whether any of subjects may read.
func (a ACL) CanRead(subjects []string) bool {
	for _, s := range subjects {
		if a[s].Read {
			return true
		}
	}
	return false
}

// CanWrite reports whether any of subjects may write.
func (a ACL) CanWrite(subjects []string) bool {
	for _, s := range subjects {
		if a[s].Write {
			return true
		}
	}
	return false
}

// GrantOwner sets read and write for subject on a raw ACL value, creating the
// map if needed, and returns the resulting raw ACL.
func GrantOwner(raw any, subject string) Object {
	acl, ok := raw.(map[string]any)
	if !ok || acl == nil {
		acl = Object{}
	}
	acl[subject] = map[string]any{"read": true, "write": true}
	return acl
}
