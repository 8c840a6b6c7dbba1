package outreach

import (
	"context"
	"html"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

const (
	signatureCID     = "signature"
	disposableLength = 10
	disposableChars  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// DisposableAddress returns a random inbox at domain: ten characters from
// [a-z0-9].
func DisposableAddress(rng *rand.Rand, domain string) string {
	var b strings.Builder
	b.Grow(disposableLength + 1 + len(domain))
	for range disposableLength {
		b.WriteByte(disposableChars[rng.IntN(len(disposableChars))])
	}
	b.WriteByte('@')
	b.WriteString(domain)
	return b.String()
}

// Dispatcher renders and sends one outreach email per call.
type Dispatcher struct {
	client mailer.Client
	assets *Assets
	cfg    config.OutreachConfig
	from   string

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewDispatcher creates a Dispatcher sending from fromAddr under the
// configured sender name.
func NewDispatcher(client mailer.Client, assets *Assets, cfg config.OutreachConfig, fromAddr string) *Dispatcher {
	from := fromAddr
	if cfg.SenderName != "" {
		from = (&mail.Address{Name: cfg.SenderName, Address: fromAddr}).String()
	}
	return &Dispatcher{
		client: client,
		assets: assets,
		cfg:    cfg,
		from:   from,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6f7574726561)),
		now:    time.Now,
	}
}

// Send emails contact about company. It returns the address the message
// went to (the disposable one in test mode) and whether delivery succeeded.
// Failures are logged, never returned.
func (d *Dispatcher) Send(ctx context.Context, contact model.Contact, company model.CompanyProfile) (string, bool) {
	log := zap.L().With(zap.String("company", company.Name))

	msg, err := d.Compose(contact, company)
	if err != nil {
		log.Error("outreach: compose failed", zap.Error(err))
		return "", false
	}
	recipient := msg.To[0]

	if err := d.client.Send(ctx, msg); err != nil {
		log.Error("outreach: send failed", zap.String("recipient", recipient), zap.Error(err))
		return recipient, false
	}
	log.Info("outreach: email sent",
		zap.String("recipient", recipient),
		zap.Bool("test_mode", d.cfg.TestMode),
	)
	return recipient, true
}

// Compose builds the message Send would deliver.
func (d *Dispatcher) Compose(contact model.Contact, company model.CompanyProfile) (mailer.Message, error) {
	recipient := strings.TrimSpace(contact.Email)
	if d.cfg.TestMode {
		recipient = d.disposable()
	}
	if recipient == "" {
		return mailer.Message{}, eris.New("outreach: contact has no email")
	}

	name := strings.TrimSpace(contact.Name)
	if name == "" {
		name = d.cfg.FallbackRecipientName
	}
	fields := map[string]string{
		FieldRecipientName: name,
		FieldOurName:       d.cfg.SenderName,
		FieldCompanyName:   company.Name,
	}
	if v := d.valueProposition(); v != "" {
		fields[FieldSignificantValue] = v
	}

	subject, err := Render(d.assets.Subject, fields)
	if err != nil {
		return mailer.Message{}, eris.Wrap(err, "outreach: render subject")
	}
	body, err := Render(d.assets.Body, fields)
	if err != nil {
		return mailer.Message{}, eris.Wrap(err, "outreach: render body")
	}

	msg := mailer.Message{
		From:    d.from,
		To:      []string{recipient},
		Subject: subject,
		Text:    body,
		HTML:    htmlBody(body, len(d.assets.Signature) > 0),
		Date:    d.now(),
	}
	if cc := strings.TrimSpace(d.cfg.CC); cc != "" && !d.cfg.TestMode {
		msg.Cc = []string{cc}
	}
	if len(d.assets.Signature) > 0 {
		msg.Inline = append(msg.Inline, mailer.Part{
			Filename:    SignatureFile,
			ContentType: "image/jpeg",
			ContentID:   signatureCID,
			Data:        d.assets.Signature,
		})
	}
	if len(d.assets.Brochure) > 0 {
		msg.Attachments = append(msg.Attachments, mailer.Part{
			Filename:    BrochureFile,
			ContentType: "application/pdf",
			Data:        d.assets.Brochure,
		})
	}
	return msg, nil
}

func (d *Dispatcher) disposable() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DisposableAddress(d.rng, d.cfg.DisposableDomain)
}

func (d *Dispatcher) valueProposition() string {
	vps := d.assets.ValuePropositions
	if len(vps) == 0 {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return vps[d.rng.IntN(len(vps))]
}

// htmlBody converts the plain-text body to HTML, keeping line breaks, and
// appends the inline signature.
func htmlBody(text string, signature bool) string {
	var b strings.Builder
	b.WriteString("<html><body>\n")
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		b.WriteString(html.EscapeString(line))
		if i < len(lines)-1 {
			b.WriteString("<br>\n")
		}
	}
	if signature {
		b.WriteString(`<br>` + "\n" + `<img src="cid:` + signatureCID + `" alt="signature">`)
	}
	b.WriteString("\n</body></html>\n")
	return b.String()
}
