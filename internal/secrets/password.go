// Package secrets keeps the SMTP password in the OS keychain.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// KeyringService groups the tool's entries in the OS keychain.
const KeyringService = "outreach-cli"

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = eris.New("secrets: smtp password not found (set it with `outreach-cli secrets set` or via EMAIL_PASS)")

// SMTPAccount returns the keychain account name for cfg's relay login.
func SMTPAccount(cfg config.SMTPConfig) string {
	return fmt.Sprintf("outreach-cli:smtp:%s@%s", cfg.Username, cfg.Host)
}

// GetSMTPPassword reads the stored password for account.
func GetSMTPPassword(account string) (string, error) {
	if strings.TrimSpace(account) == "" {
		return "", eris.New("secrets: keyring account name is empty")
	}
	pw, err := keyring.Get(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", eris.Wrap(err, "secrets: read keyring")
	}
	if strings.TrimSpace(pw) == "" {
		return "", ErrNotFound
	}
	return pw, nil
}

// SetSMTPPassword stores password for account.
func SetSMTPPassword(account, password string) error {
	if strings.TrimSpace(account) == "" {
		return eris.New("secrets: keyring account name is empty")
	}
	if strings.TrimSpace(password) == "" {
		return eris.New("secrets: password is empty")
	}
	return eris.Wrap(keyring.Set(KeyringService, account, password), "secrets: write keyring")
}

// DeleteSMTPPassword removes the stored password for account. Deleting a
// missing entry is not an error.
func DeleteSMTPPassword(account string) error {
	if strings.TrimSpace(account) == "" {
		return eris.New("secrets: keyring account name is empty")
	}
	err := keyring.Delete(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return eris.Wrap(err, "secrets: delete keyring entry")
}

// ResolveSMTPPassword fills cfg.SMTP.Password from the keychain when the
// environment left it empty.
func ResolveSMTPPassword(cfg *config.Config) error {
	if cfg.SMTP.Password != "" {
		return nil
	}
	pw, err := GetSMTPPassword(SMTPAccount(cfg.SMTP))
	if err != nil {
		return err
	}
	zap.L().Debug("secrets: smtp password loaded from keyring")
	cfg.SMTP.Password = pw
	return nil
}
