package circuit

import (
	"fmt"

	"github.com/edp1096/transim/pkg/simerr"
)

type extraKey struct {
	name string
	role string
}

// ExtraVars maps (device, role) pairs to unknown indices placed after the node
// block. Indices are handed out during the setup pre-scan and never change once
// the manager is frozen.
type ExtraVars struct {
	base   int
	index  map[extraKey]int
	order  []extraKey
	frozen bool
}

func NewExtraVars(base int) *ExtraVars {
	return &ExtraVars{
		base:  base,
		index: make(map[extraKey]int),
	}
}

// Allocate returns the index of (name, role), creating it when new.
func (e *ExtraVars) Allocate(name, role string) (int, error) {
	key := extraKey{name, role}
	if idx, ok := e.index[key]; ok {
		return idx, nil
	}
	if e.frozen {
		return 0, simerr.New(simerr.ConfigurationError, "extravars", "role %s/%s requested after setup", name, role)
	}
	idx := e.base + len(e.order)
	e.index[key] = idx
	e.order = append(e.order, key)
	return idx, nil
}

func (e *ExtraVars) Lookup(name, role string) (int, bool) {
	idx, ok := e.index[extraKey{name, role}]
	return idx, ok
}

func (e *ExtraVars) Freeze() { e.frozen = true }

func (e *ExtraVars) Frozen() bool { return e.frozen }

func (e *ExtraVars) Len() int { return len(e.order) }

// Label returns a printable name for the unknown at idx, such as "I(V1)" or
// "I(K1.secondary)".
func (e *ExtraVars) Label(idx int) string {
	k := idx - e.base
	if k < 0 || k >= len(e.order) {
		return ""
	}
	key := e.order[k]
	if key.role == "current" {
		return fmt.Sprintf("I(%s)", key.name)
	}
	return fmt.Sprintf("I(%s.%s)", key.name, key.role)
}
