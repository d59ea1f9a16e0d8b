package common

import "errors"

var (
	// ErrModulePaused is returned when an operation hits a paused module.
	ErrModulePaused = errors.New("module paused")
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("caller lacks required role")
)

// Roles recognised by the engines. Admin controls parameters, keeper may
// trigger epoch executions.
const (
	RoleAdmin  = "admin"
	RoleKeeper = "keeper"
)

// PauseView reports whether a module has been administratively paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view means pausing
// is not wired and the guard passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// RoleView answers role membership queries for engine guards.
type RoleView interface {
	HasRole(role string, addr [20]byte) bool
}

// RequireRole rejects callers outside the role. A nil view disables the
// check, which keeps engines usable in tests without an access list.
func RequireRole(v RoleView, role string, addr [20]byte) error {
	if v == nil || role == "" {
		return nil
	}
	if !v.HasRole(role, addr) {
		return ErrUnauthorized
	}
	return nil
}
