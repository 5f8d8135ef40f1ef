package events

import "fmt"

// Exchanges encode trade direction as strings, booleans, or signed
// integers. Each adapter declares an explicit lookup table for its
// encoding; an input missing from the table is an error, never a guessed
// default.

// SideMap maps exchange side strings onto canonical sides.
type SideMap map[string]Side

// Lookup resolves an exchange side string. Unmapped input is an error.
func (m SideMap) Lookup(raw string) (Side, error) {
	side, ok := m[raw]
	if !ok {
		return "", fmt.Errorf("unmapped side value %q", raw)
	}
	return side, nil
}

// Invert returns the exchange string for a canonical side.
func (m SideMap) Invert(side Side) (string, error) {
	for raw, s := range m {
		if s == side {
			return raw, nil
		}
	}
	return "", fmt.Errorf("side %q has no exchange encoding", side)
}

// BoolSideMap maps a boolean side encoding (e.g. Binance's buyer-is-maker
// flag) onto canonical sides. Both arms must be set explicitly.
type BoolSideMap struct {
	True  Side
	False Side
}

// Lookup resolves a boolean-encoded side.
func (m BoolSideMap) Lookup(raw bool) Side {
	if raw {
		return m.True
	}
	return m.False
}

// OrderStateMap maps exchange order-state strings onto canonical states.
type OrderStateMap map[string]OrderState

// Lookup resolves an exchange order state. Unmapped input is an error.
func (m OrderStateMap) Lookup(raw string) (OrderState, error) {
	state, ok := m[raw]
	if !ok {
		return "", fmt.Errorf("unmapped order state %q", raw)
	}
	return state, nil
}
