package outreach

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Asset file names inside the templates directory.
const (
	BodyFile              = "cold_outreach.txt"
	SubjectFile           = "subject.txt"
	SignatureFile         = "signature.jpg"
	BrochureFile          = "brochure.pdf"
	ValuePropositionsFile = "value_propositions.yaml"
)

// Assets is everything read from the templates directory.
type Assets struct {
	Body              string
	Subject           string
	Signature         []byte
	Brochure          []byte
	ValuePropositions []string
}

type valuePropositions struct {
	Values []string `yaml:"values"`
}

// LoadAssets reads the templates directory. The body, subject, signature
// and brochure are required; the value-proposition list is optional.
func LoadAssets(dir string) (*Assets, error) {
	read := func(name string) ([]byte, error) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, eris.Wrapf(err, "outreach: read %s", name)
		}
		return data, nil
	}

	a := &Assets{}
	body, err := read(BodyFile)
	if err != nil {
		return nil, err
	}
	a.Body = string(body)

	subject, err := read(SubjectFile)
	if err != nil {
		return nil, err
	}
	// A subject is a single header line.
	a.Subject = strings.TrimSpace(strings.SplitN(string(subject), "\n", 2)[0])

	if a.Signature, err = read(SignatureFile); err != nil {
		return nil, err
	}
	if a.Brochure, err = read(BrochureFile); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(dir, ValuePropositionsFile))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, eris.Wrapf(err, "outreach: read %s", ValuePropositionsFile)
	default:
		var vp valuePropositions
		if err := yaml.Unmarshal(raw, &vp); err != nil {
			return nil, eris.Wrapf(err, "outreach: parse %s", ValuePropositionsFile)
		}
		for _, v := range vp.Values {
			if v = strings.TrimSpace(v); v != "" {
				a.ValuePropositions = append(a.ValuePropositions, v)
			}
		}
	}

	if err := a.check(); err != nil {
		return nil, err
	}
	return a, nil
}

// check renders both templates with every known field. An unknown
// placeholder is reported at load time.
func (a *Assets) check() error {
	fields := map[string]string{
		FieldRecipientName: "x",
		FieldOurName:       "x",
		FieldCompanyName:   "x",
	}
	if len(a.ValuePropositions) > 0 {
		fields[FieldSignificantValue] = "x"
	}
	if _, err := Render(a.Subject, fields); err != nil {
		return eris.Wrapf(err, "outreach: %s", SubjectFile)
	}
	if _, err := Render(a.Body, fields); err != nil {
		return eris.Wrapf(err, "outreach: %s", BodyFile)
	}
	return nil
}
