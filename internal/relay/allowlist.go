package relay

import "github.com/AdguardTeam/golibs/container"

// AllowList is the immutable set of destination authorities the relay is
// allowed to tunnel to.  It is safe for concurrent use since it is never
// modified after creation.
type AllowList struct {
	authorities *container.MapSet[string]
}

// NewAllowList returns a new *AllowList containing authorities.  Entries are
// stored as is, without any normalization.
func NewAllowList(authorities ...string) (l *AllowList) {
	return &AllowList{
		authorities: container.NewMapSet(authorities...),
	}
}

// IsPermitted returns true if target is byte-equal to one of the allowed
// authorities.
func (l *AllowList) IsPermitted(target string) (ok bool) {
	if l == nil || target == "" {
		return false
	}

	return l.authorities.Has(target)
}

// Len returns the number of allowed authorities.
func (l *AllowList) Len() (n int) {
	if l == nil {
		return 0
	}

	return l.authorities.Len()
}
