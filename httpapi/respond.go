package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	nexusterminal "github.com/wwng2333/nexus-terminal-sub003"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError translates an engine sentinel into a status code. Anything
// unclassified is a dependency failure: logged in full, surfaced as a
// vague 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, nexusterminal.ErrMissingFields),
		errors.Is(err, nexusterminal.ErrPasswordPolicy),
		errors.Is(err, nexusterminal.ErrPasswordReuse),
		errors.Is(err, nexusterminal.ErrPasswordMismatch),
		errors.Is(err, nexusterminal.ErrCurrentPasswordIncorrect),
		errors.Is(err, nexusterminal.ErrCaptchaRequired),
		errors.Is(err, nexusterminal.ErrCaptchaInvalid),
		errors.Is(err, nexusterminal.ErrTwoFactorNotPending),
		errors.Is(err, nexusterminal.ErrSessionStale),
		errors.Is(err, nexusterminal.ErrTOTPAlreadyEnabled),
		errors.Is(err, nexusterminal.ErrTOTPSetupNotStarted),
		errors.Is(err, nexusterminal.ErrChallengeNotStaged),
		errors.Is(err, nexusterminal.ErrPasskeyVerification):
		status = http.StatusBadRequest

	case errors.Is(err, nexusterminal.ErrInvalidCredentials),
		errors.Is(err, nexusterminal.ErrIPBanned),
		errors.Is(err, nexusterminal.ErrTOTPInvalid),
		errors.Is(err, nexusterminal.ErrUnauthorized),
		errors.Is(err, nexusterminal.ErrTwoFactorPending):
		status = http.StatusUnauthorized

	case errors.Is(err, nexusterminal.ErrSetupComplete):
		status = http.StatusForbidden

	case errors.Is(err, nexusterminal.ErrUserNotFound),
		errors.Is(err, nexusterminal.ErrPasskeyNotFound),
		errors.Is(err, nexusterminal.ErrBanEntryNotFound),
		errors.Is(err, nexusterminal.ErrTOTPNotConfigured):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
