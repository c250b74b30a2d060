package models

// UserStatus is the lifecycle state of an end-user.
type UserStatus string

const (
	UserRegistered                   UserStatus = "REGISTERED"
	UserIdentityVerified             UserStatus = "IDENTITY_VERIFIED"
	UserIdentityVerificationRequired UserStatus = "IDENTITY_VERIFICATION_REQUIRED"
	UserLocked                       UserStatus = "LOCKED"
	UserDisabled                     UserStatus = "DISABLED"
	UserSuspended                    UserStatus = "SUSPENDED"
	UserDeactivated                  UserStatus = "DEACTIVATED"
	UserDeletedPending               UserStatus = "DELETED_PENDING"
	UserDeleted                      UserStatus = "DELETED"
)

// IsActive reports whether tokens may be issued for a user in this state.
func (s UserStatus) IsActive() bool {
	switch s {
	case UserRegistered, UserIdentityVerified, UserIdentityVerificationRequired:
		return true
	}
	return false
}

// User is the end-user resolved for a grant. The zero value means not found.
type User struct {
	Sub               string     `json:"sub" koanf:"sub"`
	PreferredUsername string     `json:"preferred_username,omitempty" koanf:"preferred_username"`
	Email             string     `json:"email,omitempty" koanf:"email"`
	PhoneNumber       string     `json:"phone_number,omitempty" koanf:"phone_number"`
	Name              string     `json:"name,omitempty" koanf:"name"`
	Status            UserStatus `json:"status" koanf:"status"`
	PasswordHash      string     `json:"-" koanf:"password_hash"`
}

// Exists reports whether the user was resolved.
func (u User) Exists() bool { return u.Sub != "" }

// IsActive reports whether the user exists and is in an active state.
func (u User) IsActive() bool { return u.Exists() && u.Status.IsActive() }
