package lifecycle

import "context"

// DirectoryUser is a principal in the identity directory.
type DirectoryUser struct {
	ID         string
	Username   string
	Email      string
	BusinessID string
	Disabled   bool
}

// NewDirectoryUser is the creation request for a directory principal.
type NewDirectoryUser struct {
	FirstName    string
	LastName     string
	Email        string
	BusinessID   string
	EmployeeType string
}

// DirectoryClient is the identity directory surface the handlers consume.
// Vendor adapters implement this; lookups return (nil, nil) when no
// principal matches. Timeouts are the implementation's concern, enforced
// per outbound call via ctx.
type DirectoryClient interface {
	FindByBusinessID(ctx context.Context, businessID string) (*DirectoryUser, error)
	FindByEmail(ctx context.Context, email string) (*DirectoryUser, error)
	FindByUsername(ctx context.Context, username string) (*DirectoryUser, error)
	CreateUser(ctx context.Context, user NewDirectoryUser) (*DirectoryUser, error)
	DisableUser(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, id string) error
	RevokeSessions(ctx context.Context, id string) error
	RemoveFromGroups(ctx context.Context, id string) error
	ClearManager(ctx context.Context, id string) error
}

// HRClient writes provisioning outcomes back to the HR record system.
type HRClient interface {
	UpdateCandidateFields(ctx context.Context, correlationID string, fields map[string]string) error
}

// Notifier is the fire-and-forget side channel for job outcomes. The
// inbound trigger only ever sees the scheduling acknowledgement; later
// success or failure surfaces here.
type Notifier interface {
	NotifySuccess(jobType, correlationID, summary string)
	NotifyFailure(jobType, correlationID, reason string)
}
