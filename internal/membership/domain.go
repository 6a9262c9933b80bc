// internal/membership/domain.go
package membership

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"librarydesk/internal/apperr"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleMember    Role = "member"
	RoleLibrarian Role = "librarian"
	RoleAdmin     Role = "admin"
)

// Capability is something a role may be allowed to do beyond borrowing.
type Capability string

const (
	CapManageCatalog     Capability = "catalog:manage"
	CapManageCirculation Capability = "circulation:manage"
	CapViewReports       Capability = "reports:view"
	CapManageUsers       Capability = "users:manage"
)

var capabilities = map[Role][]Capability{
	RoleMember:    nil,
	RoleLibrarian: {CapManageCatalog, CapManageCirculation},
	RoleAdmin:     {CapManageCatalog, CapManageCirculation, CapViewReports, CapManageUsers},
}

// ParseRole accepts the role names used on the wire. "user" is the legacy
// name of member.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member", "user":
		return RoleMember, nil
	case "librarian":
		return RoleLibrarian, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return "", apperr.Validation("unknown role %q", s)
	}
}

// Can reports whether r grants c.
func (r Role) Can(c Capability) bool {
	for _, have := range capabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

// User is a library account. BorrowedBooks mirrors the books the user
// currently has out and is only changed by the circulation service.
type User struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	Name          string      `json:"name" db:"name"`
	Email         string      `json:"email" db:"email"`
	Role          Role        `json:"role" db:"role"`
	BorrowedBooks []uuid.UUID `json:"borrowedBooks" db:"-"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time   `json:"updatedAt" db:"updated_at"`
}

// Credential holds a user's password hash.
type Credential struct {
	UserID       uuid.UUID `json:"-" db:"user_id"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
}

// Summary is the slice of a user embedded in borrow views.
type Summary struct {
	ID    uuid.UUID `json:"id" db:"id"`
	Name  string    `json:"name" db:"name"`
	Email string    `json:"email" db:"email"`
}

var emailCheck = validator.New()

// Registration is the input for Register.
type Registration struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

func (r Registration) validate() error {
	var problems []string
	if len(strings.TrimSpace(r.Name)) < 2 {
		problems = append(problems, "name must be at least 2 characters")
	}
	if emailCheck.Var(r.Email, "required,email") != nil {
		problems = append(problems, "email is not valid")
	}
	if len(r.Password) < 6 {
		problems = append(problems, "password must be at least 6 characters")
	}
	if !r.Role.Valid() {
		problems = append(problems, fmt.Sprintf("unknown role %q", r.Role))
	}
	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, ", "))
	}
	return nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
