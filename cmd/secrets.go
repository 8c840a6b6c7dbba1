package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/secrets"
)

var secretsPassword string

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the SMTP password in the OS keychain",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the SMTP password for smtp.username@smtp.host",
	Long:  "Stores the SMTP password in the OS keychain. The password is read from --password or, when that is empty, from the first line of stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.SMTP.Username == "" {
			return eris.New("secrets: smtp.username is required")
		}
		pw := secretsPassword
		if pw == "" {
			var err error
			if pw, err = readPassword(cmd.InOrStdin()); err != nil {
				return err
			}
		}
		account := secrets.SMTPAccount(cfg.SMTP)
		if err := secrets.SetSMTPPassword(account, pw); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored password for %s\n", account)
		return nil
	},
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored SMTP password",
	RunE: func(cmd *cobra.Command, args []string) error {
		account := secrets.SMTPAccount(cfg.SMTP)
		if err := secrets.DeleteSMTPPassword(account); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed password for %s\n", account)
		return nil
	},
}

// readPassword returns the first line of r without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", eris.Wrap(err, "secrets: read password")
	}
	pw := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(pw) == "" {
		return "", eris.New("secrets: empty password")
	}
	return pw, nil
}

func init() {
	secretsSetCmd.Flags().StringVar(&secretsPassword, "password", "", "password to store (read from stdin when empty)")
	secretsCmd.AddCommand(secretsSetCmd, secretsDeleteCmd)
	rootCmd.AddCommand(secretsCmd)
}
