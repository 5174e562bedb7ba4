package nexusterminal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// WebAuthnVerifier implements PasskeyVerifier on top of go-webauthn.
// The opaque challenge handed back to the engine is the library's
// serialized SessionData; it round-trips through the caller's session
// between the begin and finish steps.
type WebAuthnVerifier struct {
	wa *webauthn.WebAuthn
}

// NewWebAuthnVerifier builds the verifier from the relying-party config.
func NewWebAuthnVerifier(cfg PasskeyConfig) (*WebAuthnVerifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	return &WebAuthnVerifier{wa: wa}, nil
}

// webAuthnUser adapts a User plus its stored credentials to the
// webauthn.User interface.
type webAuthnUser struct {
	user  *User
	creds []webauthn.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *webAuthnUser) WebAuthnName() string                       { return u.user.Username }
func (u *webAuthnUser) WebAuthnDisplayName() string                { return u.user.Username }
func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (v *WebAuthnVerifier) adaptUser(user *User, creds []PasskeyCredential) (*webAuthnUser, error) {
	wu := &webAuthnUser{user: user, creds: make([]webauthn.Credential, 0, len(creds))}
	for _, c := range creds {
		wc, err := libraryCredential(c)
		if err != nil {
			return nil, err
		}
		wu.creds = append(wu.creds, *wc)
	}
	return wu, nil
}

// BeginRegistration produces creation options excluding all already
// registered credentials.
func (v *WebAuthnVerifier) BeginRegistration(ctx context.Context, user *User, creds []PasskeyCredential) (json.RawMessage, string, error) {
	wu, err := v.adaptUser(user, creds)
	if err != nil {
		return nil, "", err
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(wu.creds))
	for _, c := range wu.creds {
		exclusions = append(exclusions, c.Descriptor())
	}

	creation, sessionData, err := v.wa.BeginRegistration(wu, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}

	options, err := json.Marshal(creation)
	if err != nil {
		return nil, "", err
	}
	challenge, err := json.Marshal(sessionData)
	if err != nil {
		return nil, "", err
	}
	return options, string(challenge), nil
}

// FinishRegistration verifies the attestation response against the
// staged session data and converts the resulting credential into the
// storage representation.
func (v *WebAuthnVerifier) FinishRegistration(ctx context.Context, user *User, creds []PasskeyCredential, challenge string, response json.RawMessage) (*PasskeyCredential, error) {
	wu, err := v.adaptUser(user, creds)
	if err != nil {
		return nil, err
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal([]byte(challenge), &sessionData); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("parse attestation: %w", err)
	}

	credential, err := v.wa.CreateCredential(wu, sessionData, parsed)
	if err != nil {
		return nil, fmt.Errorf("verify attestation: %w", err)
	}
	return storedCredential(credential), nil
}

// BeginLogin produces assertion options restricted to the user's
// registered credentials.
func (v *WebAuthnVerifier) BeginLogin(ctx context.Context, user *User, creds []PasskeyCredential) (json.RawMessage, string, error) {
	wu, err := v.adaptUser(user, creds)
	if err != nil {
		return nil, "", err
	}

	assertion, sessionData, err := v.wa.BeginLogin(wu)
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}

	options, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", err
	}
	challenge, err := json.Marshal(sessionData)
	if err != nil {
		return nil, "", err
	}
	return options, string(challenge), nil
}

// FinishLogin verifies the assertion and returns the matched credential
// ID and its updated sign counter for writeback.
func (v *WebAuthnVerifier) FinishLogin(ctx context.Context, user *User, creds []PasskeyCredential, challenge string, response json.RawMessage) (string, uint32, error) {
	wu, err := v.adaptUser(user, creds)
	if err != nil {
		return "", 0, err
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal([]byte(challenge), &sessionData); err != nil {
		return "", 0, fmt.Errorf("decode challenge: %w", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return "", 0, fmt.Errorf("parse assertion: %w", err)
	}

	credential, err := v.wa.ValidateLogin(wu, sessionData, parsed)
	if err != nil {
		return "", 0, fmt.Errorf("verify assertion: %w", err)
	}
	if credential.Authenticator.CloneWarning {
		return "", 0, fmt.Errorf("verify assertion: sign counter regression, possible cloned authenticator")
	}

	id := base64.RawURLEncoding.EncodeToString(credential.ID)
	return id, credential.Authenticator.SignCount, nil
}

// libraryCredential decodes a stored row back into the library type.
func libraryCredential(c PasskeyCredential) (*webauthn.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(c.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("decode credential id: %w", err)
	}
	publicKey, err := base64.StdEncoding.DecodeString(c.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}

	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return &webauthn.Credential{
		ID:        id,
		PublicKey: publicKey,
		Transport: transports,
		Authenticator: webauthn.Authenticator{
			SignCount: c.SignCount,
		},
	}, nil
}

// storedCredential converts a freshly created library credential into
// the storage representation. ID, UserID, Name and CreatedAt are filled
// in by the engine.
func storedCredential(c *webauthn.Credential) *PasskeyCredential {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}
	return &PasskeyCredential{
		CredentialID: base64.RawURLEncoding.EncodeToString(c.ID),
		PublicKey:    base64.StdEncoding.EncodeToString(c.PublicKey),
		SignCount:    c.Authenticator.SignCount,
		Transports:   transports,
	}
}
