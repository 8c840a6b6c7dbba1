package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/secrets"
)

var (
	sendTestTo      string
	sendTestName    string
	sendTestCompany string
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Send one outreach email to a given address",
	Long:  "Renders the outreach templates for the given name and company and sends the result. Test mode still applies, so with outreach.test_mode set the mail goes to a disposable inbox.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := secrets.ResolveSMTPPassword(cfg); err != nil {
			return err
		}
		if err := cfg.Validate("send"); err != nil {
			return err
		}

		d, err := newDispatcher(newMailer())
		if err != nil {
			return err
		}

		company := model.CompanyProfile{CompanySummary: model.CompanySummary{Name: sendTestCompany}}
		recipient, ok := d.Send(ctx, model.Contact{Name: sendTestName, Email: sendTestTo}, company)
		if !ok {
			return eris.Errorf("send-test: delivery to %s failed", sendTestTo)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", recipient)
		return nil
	},
}

func init() {
	sendTestCmd.Flags().StringVar(&sendTestTo, "to", "", "recipient email address")
	sendTestCmd.Flags().StringVar(&sendTestName, "name", "", "recipient name (fallback name when empty)")
	sendTestCmd.Flags().StringVar(&sendTestCompany, "company", "Test Company", "company name rendered into the templates")
	_ = sendTestCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(sendTestCmd)
}
