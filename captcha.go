package nexusterminal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Provider verification endpoints. Turnstile and hCaptcha accept the
// same form fields as reCAPTCHA.
var captchaVerifyURLs = map[string]string{
	"recaptcha": "https://www.google.com/recaptcha/api/siteverify",
	"hcaptcha":  "https://hcaptcha.com/siteverify",
	"turnstile": "https://challenges.cloudflare.com/turnstile/v0/siteverify",
}

// captchaSettings is the point-in-time CAPTCHA configuration resolved
// from the settings store.
type captchaSettings struct {
	Enabled   bool
	Provider  string
	SiteKey   string
	SecretKey string
}

// HTTPCaptchaVerifier verifies tokens against the configured external
// provider. Provider choice and keys are read from the settings store
// on every call so operators can rotate them without a restart.
type HTTPCaptchaVerifier struct {
	settings SettingsStore
	client   *http.Client
	// verifyURL overrides the provider endpoint; tests point it at a
	// local server.
	verifyURL string
}

// NewHTTPCaptchaVerifier builds a verifier using cfg.VerifyTimeout for
// the outbound call.
func NewHTTPCaptchaVerifier(settings SettingsStore, cfg CaptchaConfig) *HTTPCaptchaVerifier {
	return &HTTPCaptchaVerifier{
		settings: settings,
		client:   &http.Client{Timeout: cfg.VerifyTimeout},
	}
}

// Verify posts the token to the provider's siteverify endpoint. A false
// result means the provider rejected the token; a non-nil error means
// verification could not be performed at all.
func (v *HTTPCaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	cfg, err := resolveCaptchaSettings(ctx, v.settings)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	if !cfg.Enabled {
		return true, nil
	}
	if cfg.SecretKey == "" {
		return false, fmt.Errorf("%w: secret key not configured", ErrCaptchaUnavailable)
	}

	endpoint := v.verifyURL
	if endpoint == "" {
		var ok bool
		endpoint, ok = captchaVerifyURLs[cfg.Provider]
		if !ok {
			return false, fmt.Errorf("%w: unknown provider %q", ErrCaptchaUnavailable, cfg.Provider)
		}
	}

	form := url.Values{}
	form.Set("secret", cfg.SecretKey)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: provider returned %d", ErrCaptchaUnavailable, resp.StatusCode)
	}

	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}

	return body.Success, nil
}

func resolveCaptchaSettings(ctx context.Context, settings SettingsStore) (captchaSettings, error) {
	var cfg captchaSettings
	if settings == nil {
		return cfg, nil
	}

	if raw, err := settings.Get(ctx, SettingCaptchaEnabled); err == nil {
		cfg.Enabled = raw == "true" || raw == "1"
	}
	if !cfg.Enabled {
		return cfg, nil
	}

	provider, err := settings.Get(ctx, SettingCaptchaProvider)
	if err != nil {
		return cfg, err
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(provider))

	if raw, err := settings.Get(ctx, SettingCaptchaSiteKey); err == nil {
		cfg.SiteKey = raw
	}
	if raw, err := settings.Get(ctx, SettingCaptchaSecretKey); err == nil {
		cfg.SecretKey = raw
	}

	return cfg, nil
}
