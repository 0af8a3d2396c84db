package goGate

import (
	"context"
)

const (
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventLoginRateLimited = "login_rate_limited"
	auditEventReissueSuccess   = "reissue_success"
	auditEventReissueRejected  = "reissue_rejected"
	auditEventLogout           = "logout"
	auditEventLogoutFailure    = "logout_failure"
	auditEventLogoutAll        = "logout_all"
	auditEventSessionEvicted   = "session_evicted"
	auditEventSignatureInvalid = "token_signature_invalid"
	auditEventRevokedTokenUsed = "revoked_token_used"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   subject,
		TokenID:   tokenID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Reason = string(ReasonFor(err))
	}

	e.audit.Emit(ctx, event)
}
