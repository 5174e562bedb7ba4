package nexusterminal

import (
	"context"
	"errors"
	"fmt"

	"github.com/wwng2333/nexus-terminal-sub003/session"
)

const minPasswordLength = 8

// ChangePassword replaces the account password after re-confirming the
// current one. The re-confirmation is not a login attempt and therefore
// never touches the ban ledger; a wrong current password never mutates
// the stored hash.
func (e *Engine) ChangePassword(ctx context.Context, sess *session.Context, currentPassword, newPassword string) error {
	if e == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	if currentPassword == "" || newPassword == "" {
		return ErrMissingFields
	}
	if len(newPassword) < minPasswordLength {
		return ErrPasswordPolicy
	}
	if newPassword == currentPassword {
		return ErrPasswordReuse
	}

	user, err := e.credentials.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}

	ok, err := e.passwordHash.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChangeFail, false, user.ID, user.Username, "invalid_current_password", nil)
		return ErrCurrentPasswordIncorrect
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if err := e.credentials.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}

	e.emitAudit(ctx, auditEventPasswordChanged, true, user.ID, user.Username, "", nil)
	e.emitNotify(ctx, auditEventPasswordChanged, user.ID, user.Username, "", nil)
	return nil
}
