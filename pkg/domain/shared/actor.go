package shared

import "fmt"

// Actor is the authorization context of the caller performing an operation.
// It is passed explicitly to every administrative operation.
type Actor struct {
	ID            ID
	Email         string
	IsAdmin       bool
	Organizations []ID
}

// SystemActor is used for mutations driven by the scheduler rather than a person.
var SystemActor = Actor{IsAdmin: true, Email: "system"}

// IsSystem reports whether the actor is the scheduler.
func (a Actor) IsSystem() bool {
	return a.ID.IsZero() && a.IsAdmin && a.Email == SystemActor.Email
}

// RequireAdmin returns ErrUnauthorized unless the actor holds administrative rights.
func (a Actor) RequireAdmin() error {
	if !a.IsAdmin {
		return fmt.Errorf("%w: administrative rights required", ErrUnauthorized)
	}
	return nil
}

// RequireOrganization returns ErrUnauthorized unless the actor is an administrator or
// a member of the organization.
func (a Actor) RequireOrganization(orgID ID) error {
	if a.IsAdmin {
		return nil
	}
	for _, id := range a.Organizations {
		if id.Equals(orgID) {
			return nil
		}
	}
	return fmt.Errorf("%w: no access to organization %s", ErrUnauthorized, orgID)
}
