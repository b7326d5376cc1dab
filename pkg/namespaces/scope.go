// Package namespaces resolves namespace scopes, and fans requests and streams
// out to each namespace in a scope.
package namespaces

import (
	"errors"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

type Mode string

const (
	Single Mode = "single"
	Multi  Mode = "multi"
)

var ErrEmptyScope = errors.New("no namespace is given")

// Scope is a set of namespaces to be synchronized together.
type Scope struct {
	Mode       Mode
	namespaces sets.Set[string]
}

// ResolveScope builds a Scope from requested namespaces.
//
// Blank and duplicated names are dropped. One namespace makes a Single scope,
// two or more make a Multi scope.
func ResolveScope(requested ...string) (Scope, error) {
	ns := sets.New[string]()
	for _, r := range requested {
		if r = strings.TrimSpace(r); r != "" {
			ns.Insert(r)
		}
	}

	switch ns.Len() {
	case 0:
		return Scope{}, ErrEmptyScope
	case 1:
		return Scope{Mode: Single, namespaces: ns}, nil
	default:
		return Scope{Mode: Multi, namespaces: ns}, nil
	}
}

// MustResolve is ResolveScope which panics on error.
func MustResolve(requested ...string) Scope {
	s, err := ResolveScope(requested...)
	if err != nil {
		panic(err)
	}
	return s
}

// List returns namespaces in the scope, sorted.
func (s Scope) List() []string {
	return sets.List(s.namespaces)
}

func (s Scope) Len() int {
	return s.namespaces.Len()
}

func (s Scope) Has(namespace string) bool {
	return s.namespaces.Has(namespace)
}

// Namespace returns the namespace of a Single scope.
func (s Scope) Namespace() (string, bool) {
	if s.Mode != Single {
		return "", false
	}
	l := s.List()
	return l[0], true
}

func (s Scope) Equal(other Scope) bool {
	return s.Mode == other.Mode && s.namespaces.Equal(other.namespaces)
}

func (s Scope) IsZero() bool {
	return s.namespaces.Len() == 0
}

func (s Scope) String() string {
	if s.IsZero() {
		return "(none)"
	}
	return fmt.Sprintf("%s[%s]", s.Mode, strings.Join(s.List(), ","))
}
