package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/google/uuid"
)

// DryRunDirectory is an in-memory DirectoryClient used when no vendor
// integration is configured. It keeps created principals in a map so the
// daemon runs end-to-end: a provisioned principal can later be resolved
// and disabled or deleted. State does not survive a restart.
type DryRunDirectory struct {
	log *zap.SugaredLogger

	mu    sync.Mutex
	users map[string]*DirectoryUser
}

// NewDryRunDirectory creates an empty in-memory directory.
func NewDryRunDirectory(log *zap.SugaredLogger) *DryRunDirectory {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DryRunDirectory{
		log:   log,
		users: make(map[string]*DirectoryUser),
	}
}

func (d *DryRunDirectory) find(match func(*DirectoryUser) bool) *DirectoryUser {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if match(u) {
			copied := *u
			return &copied
		}
	}
	return nil
}

func (d *DryRunDirectory) FindByBusinessID(_ context.Context, businessID string) (*DirectoryUser, error) {
	return d.find(func(u *DirectoryUser) bool { return u.BusinessID == businessID }), nil
}

func (d *DryRunDirectory) FindByEmail(_ context.Context, email string) (*DirectoryUser, error) {
	return d.find(func(u *DirectoryUser) bool { return u.Email == email }), nil
}

func (d *DryRunDirectory) FindByUsername(_ context.Context, username string) (*DirectoryUser, error) {
	return d.find(func(u *DirectoryUser) bool { return u.Username == username }), nil
}

func (d *DryRunDirectory) CreateUser(_ context.Context, user NewDirectoryUser) (*DirectoryUser, error) {
	created := &DirectoryUser{
		ID:         uuid.NewString(),
		Username:   fmt.Sprintf("%s.%s", user.FirstName, user.LastName),
		Email:      user.Email,
		BusinessID: user.BusinessID,
	}
	d.mu.Lock()
	d.users[created.ID] = created
	d.mu.Unlock()
	d.log.Infow("[dry-run] created principal",
		"principal_id", created.ID, "email", created.Email, "business_id", created.BusinessID)
	return created, nil
}

func (d *DryRunDirectory) DisableUser(_ context.Context, id string) error {
	d.mu.Lock()
	if u, ok := d.users[id]; ok {
		u.Disabled = true
	}
	d.mu.Unlock()
	d.log.Infow("[dry-run] disabled principal", "principal_id", id)
	return nil
}

func (d *DryRunDirectory) DeleteUser(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.users, id)
	d.mu.Unlock()
	d.log.Infow("[dry-run] deleted principal", "principal_id", id)
	return nil
}

func (d *DryRunDirectory) RevokeSessions(_ context.Context, id string) error {
	d.log.Infow("[dry-run] revoked sessions", "principal_id", id)
	return nil
}

func (d *DryRunDirectory) RemoveFromGroups(_ context.Context, id string) error {
	d.log.Infow("[dry-run] removed group memberships", "principal_id", id)
	return nil
}

func (d *DryRunDirectory) ClearManager(_ context.Context, id string) error {
	d.log.Infow("[dry-run] cleared manager reference", "principal_id", id)
	return nil
}

// DryRunHR logs HR write-backs instead of performing them.
type DryRunHR struct {
	log *zap.SugaredLogger
}

// NewDryRunHR creates a logging HR client.
func NewDryRunHR(log *zap.SugaredLogger) *DryRunHR {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DryRunHR{log: log}
}

func (h *DryRunHR) UpdateCandidateFields(_ context.Context, correlationID string, fields map[string]string) error {
	h.log.Infow("[dry-run] HR write-back",
		"correlation_id", correlationID, "fields", fields)
	return nil
}
