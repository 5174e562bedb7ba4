package nexusterminal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// NeedsSetup reports whether the one-time admin bootstrap is still
// open, which is the case exactly while zero users exist.
func (e *Engine) NeedsSetup(ctx context.Context) (bool, error) {
	count, err := e.credentials.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	return count == 0, nil
}

// SetupAdmin creates the first (and only) console account. The user
// count is re-checked at call time, not just at the needs-setup probe:
// the bootstrap path must be permanently closed the instant one user
// exists, regardless of what the frontend showed.
func (e *Engine) SetupAdmin(ctx context.Context, username, pass, confirmPassword string) (*PublicUser, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	if username == "" || pass == "" || confirmPassword == "" {
		return nil, ErrMissingFields
	}
	if len(pass) < minPasswordLength {
		return nil, ErrPasswordPolicy
	}
	if pass != confirmPassword {
		return nil, ErrPasswordMismatch
	}

	count, err := e.credentials.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if count > 0 {
		return nil, ErrSetupComplete
	}

	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
	}
	if err := e.credentials.CreateUser(ctx, user); err != nil {
		// A concurrent bootstrap may have won the race; the unique
		// username constraint or count check in the store closes it.
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	e.emitAudit(ctx, auditEventAdminSetupComplete, true, user.ID, user.Username, "", nil)
	e.emitNotify(ctx, auditEventAdminSetupComplete, user.ID, user.Username, "", nil)

	public := user.Public()
	return &public, nil
}
