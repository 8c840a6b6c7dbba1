// Package mailer composes MIME messages and delivers them over SMTP.
package mailer

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"
)

// Part is a binary body part: an inline image referenced from the HTML by
// ContentID, or a file attachment.
type Part struct {
	Filename    string
	ContentType string
	ContentID   string
	Data        []byte
}

// Message is an outgoing email. HTML is required; Text is an optional
// plain-text alternative.
type Message struct {
	From        string
	To          []string
	Cc          []string
	Subject     string
	HTML        string
	Text        string
	Inline      []Part
	Attachments []Part
	Date        time.Time
}

// Recipients returns the envelope recipients: To followed by Cc, without
// blanks or repeats.
func (m Message) Recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, addr := range append(append([]string{}, m.To...), m.Cc...) {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}
	return out
}

func (m Message) validate() error {
	if strings.TrimSpace(m.From) == "" {
		return eris.New("mailer: message has no sender")
	}
	if len(m.Recipients()) == 0 {
		return eris.New("mailer: message has no recipients")
	}
	if m.HTML == "" {
		return eris.New("mailer: message has no body")
	}
	return nil
}

// Compose writes m as an RFC 5322 message:
//
//	multipart/mixed
//	├── multipart/related
//	│   ├── text/html (or multipart/alternative with text/plain)
//	│   └── inline parts
//	└── attachments
func Compose(w io.Writer, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}

	var h mail.Header
	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return eris.Wrapf(err, "mailer: parse sender %q", m.From)
	}
	h.SetAddressList("From", []*mail.Address{from})
	to, err := parseList(m.To)
	if err != nil {
		return err
	}
	h.SetAddressList("To", to)
	if len(m.Cc) > 0 {
		cc, err := parseList(m.Cc)
		if err != nil {
			return err
		}
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(m.Subject)
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	if err := h.GenerateMessageID(); err != nil {
		return eris.Wrap(err, "mailer: generate message id")
	}
	h.Set("MIME-Version", "1.0")
	h.SetContentType("multipart/mixed", nil)

	mixed, err := message.CreateWriter(w, h.Header)
	if err != nil {
		return eris.Wrap(err, "mailer: create message")
	}

	var rh message.Header
	rh.SetContentType("multipart/related", map[string]string{"type": "text/html"})
	related, err := mixed.CreatePart(rh)
	if err != nil {
		return eris.Wrap(err, "mailer: create related part")
	}
	if err := writeBody(related, m); err != nil {
		return err
	}
	for _, p := range m.Inline {
		if err := writePart(related, p, "inline"); err != nil {
			return err
		}
	}
	if err := related.Close(); err != nil {
		return eris.Wrap(err, "mailer: close related part")
	}

	for _, p := range m.Attachments {
		if err := writePart(mixed, p, "attachment"); err != nil {
			return err
		}
	}
	return eris.Wrap(mixed.Close(), "mailer: close message")
}

// Bytes composes m into memory.
func Bytes(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := Compose(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBody(parent *message.Writer, m Message) error {
	if m.Text == "" {
		return writeText(parent, "text/html", m.HTML)
	}
	var ah message.Header
	ah.SetContentType("multipart/alternative", nil)
	alt, err := parent.CreatePart(ah)
	if err != nil {
		return eris.Wrap(err, "mailer: create alternative part")
	}
	if err := writeText(alt, "text/plain", m.Text); err != nil {
		return err
	}
	if err := writeText(alt, "text/html", m.HTML); err != nil {
		return err
	}
	return eris.Wrap(alt.Close(), "mailer: close alternative part")
}

func writeText(parent *message.Writer, contentType, body string) error {
	var th message.Header
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := parent.CreatePart(th)
	if err != nil {
		return eris.Wrapf(err, "mailer: create %s part", contentType)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return eris.Wrapf(err, "mailer: write %s part", contentType)
	}
	return eris.Wrapf(pw.Close(), "mailer: close %s part", contentType)
}

func writePart(parent *message.Writer, p Part, disposition string) error {
	name := filepath.Base(p.Filename)
	ct := p.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	var ph message.Header
	ph.SetContentType(ct, map[string]string{"name": name})
	ph.SetContentDisposition(disposition, map[string]string{"filename": name})
	ph.Set("Content-Transfer-Encoding", "base64")
	if p.ContentID != "" {
		ph.Set("Content-ID", "<"+p.ContentID+">")
	}

	pw, err := parent.CreatePart(ph)
	if err != nil {
		return eris.Wrapf(err, "mailer: create part %s", name)
	}
	if _, err := pw.Write(p.Data); err != nil {
		return eris.Wrapf(err, "mailer: write part %s", name)
	}
	return eris.Wrapf(pw.Close(), "mailer: close part %s", name)
}

func parseList(addrs []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		if strings.TrimSpace(a) == "" {
			continue
		}
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, eris.Wrapf(err, "mailer: parse address %q", a)
		}
		out = append(out, parsed)
	}
	return out, nil
}
