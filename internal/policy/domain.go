// Package policy decides which email addresses may register.
package policy

import (
	"errors"
	"strings"
)

// ErrPersonalDomain is returned for addresses on a blocked personal domain.
var ErrPersonalDomain = errors.New("personal email domains are not allowed")

// DomainPolicy rejects sign-ins from configured personal mail domains.
// The zero value allows everything.
type DomainPolicy struct {
	enabled bool
	blocked map[string]struct{}
}

// NewDomainPolicy builds a policy. Domains are matched case-insensitively
// and may be given with a leading "@".
func NewDomainPolicy(enabled bool, domains []string) DomainPolicy {
	p := DomainPolicy{enabled: enabled, blocked: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" {
			p.blocked[d] = struct{}{}
		}
	}
	return p
}

// IsPersonal reports whether email belongs to a blocked domain, regardless
// of whether the policy is enforced.
func (p DomainPolicy) IsPersonal(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	_, ok := p.blocked[strings.ToLower(strings.TrimSpace(email[at+1:]))]
	return ok
}

// Check returns ErrPersonalDomain when the policy is enforced and email is
// on a blocked domain.
func (p DomainPolicy) Check(email string) error {
	if p.enabled && p.IsPersonal(email) {
		return ErrPersonalDomain
	}
	return nil
}
