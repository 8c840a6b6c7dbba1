package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/sells-group/outreach-cli/internal/config"
)

func testSMTP() config.SMTPConfig {
	return config.SMTPConfig{Host: "smtp.gmail.com", Username: "ana@outreach.test"}
}

func TestSMTPAccount(t *testing.T) {
	assert.Equal(t, "outreach-cli:smtp:ana@outreach.test@smtp.gmail.com", SMTPAccount(testSMTP()))
}

func TestPasswordLifecycle(t *testing.T) {
	keyring.MockInit()
	account := SMTPAccount(testSMTP())

	_, err := GetSMTPPassword(account)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, SetSMTPPassword(account, "app-password"))
	pw, err := GetSMTPPassword(account)
	require.NoError(t, err)
	assert.Equal(t, "app-password", pw)

	require.NoError(t, DeleteSMTPPassword(account))
	_, err = GetSMTPPassword(account)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, DeleteSMTPPassword(account))
}

func TestSetSMTPPassword_Validation(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, SetSMTPPassword("", "pw"))
	assert.Error(t, SetSMTPPassword("acct", "  "))
	assert.Error(t, DeleteSMTPPassword(" "))
	_, err := GetSMTPPassword("")
	assert.Error(t, err)
}

func TestResolveSMTPPassword(t *testing.T) {
	keyring.MockInit()

	cfg := &config.Config{SMTP: testSMTP()}
	assert.ErrorIs(t, ResolveSMTPPassword(cfg), ErrNotFound)

	require.NoError(t, SetSMTPPassword(SMTPAccount(cfg.SMTP), "from-keyring"))
	require.NoError(t, ResolveSMTPPassword(cfg))
	assert.Equal(t, "from-keyring", cfg.SMTP.Password)

	// An environment-supplied password wins.
	cfg = &config.Config{SMTP: testSMTP()}
	cfg.SMTP.Password = "from-env"
	require.NoError(t, ResolveSMTPPassword(cfg))
	assert.Equal(t, "from-env", cfg.SMTP.Password)
}
