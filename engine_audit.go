package nexusterminal

import (
	"context"
	"time"
)

const (
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventLoginBlocked       = "login_blocked"
	auditEventLogout             = "logout"
	auditEventIPBanned           = "ip_banned"
	auditEventIPUnbanned         = "ip_unbanned"
	auditEventPasswordChanged    = "password_changed"
	auditEventPasswordChangeFail = "password_change_failure"
	auditEventTOTPEnabled        = "2fa_enabled"
	auditEventTOTPDisabled       = "2fa_disabled"
	auditEventPasskeyRegistered  = "passkey_registered"
	auditEventPasskeyLogin       = "passkey_login"
	auditEventPasskeyRemoved     = "passkey_removed"
	auditEventAdminSetupComplete = "admin_setup_complete"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	username string,
	reason string,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata["user_agent"] = ua
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Username:  username,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Reason:    reason,
		Metadata:  metadata,
	})
}

// emitNotify forwards an operator notification. Delivery failures are
// absorbed by the dispatcher; the auth flow never waits on it.
func (e *Engine) emitNotify(ctx context.Context, eventType, userID, username, reason string, metadata map[string]string) {
	if e == nil || e.notify == nil {
		return
	}

	e.notify.Emit(ctx, AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Username:  username,
		IP:        clientIPFromContext(ctx),
		Success:   reason == "",
		Reason:    reason,
		Metadata:  metadata,
	})
}
