package model

import "time"

type Permission string

const (
	PermAll        Permission = "all"
	PermBroadcast  Permission = "broadcast"
	PermLessons    Permission = "lessons"
	PermRefunds    Permission = "refunds"
	PermStats      Permission = "stats"
	PermOnboarding Permission = "onboarding"
)

type Admin struct {
	TelegramID  int64
	Username    string
	Permissions []Permission
	Active      bool
	LastLoginAt *time.Time
}

// Allows reports whether the admin is active and holds every required permission.
// The "all" sentinel satisfies any requirement.
func (a *Admin) Allows(required ...Permission) bool {
	if a == nil || !a.Active {
		return false
	}
	have := make(map[Permission]struct{}, len(a.Permissions))
	for _, p := range a.Permissions {
		if p == PermAll {
			return true
		}
		have[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}
