// Package notify renders and sends the exam notification emails.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"

	"lumavet.pet/lumavet/internal/domain"
	"lumavet.pet/lumavet/internal/metrics"
)

const (
	subjectFormat = "LumaVet — Exame cadastrado (%s)"
	dateLayout    = "02/01/2006"
)

var textTemplate = template.Must(template.New("exam.txt").Parse(`Olá, {{.Recipient}}!

Um exame foi cadastrado no sistema.

Clínica/Veterinário: {{.Exam.ClinicOrVet}}
Tutor: {{.Exam.TutorName}}
Pet: {{.Exam.PetName}}
Raça: {{.Exam.Breed}}
Exame: {{.Exam.ExamType}}
Data de realização: {{.PerformedOn}}
{{if .ActivationLink}}
Este é seu primeiro acesso.
Crie sua senha por aqui: {{.ActivationLink}}
{{end}}
Login: {{.LoginLink}}
Abrir exame (após login): {{.ExamLink}}

— LumaVet
`))

var markdownTemplate = template.Must(template.New("exam.md").Funcs(template.FuncMap{
	"md": mdEscape,
}).Parse(`Olá, **{{md .Recipient}}**!

Um exame foi cadastrado no sistema.

- **Clínica/Veterinário:** {{md .Exam.ClinicOrVet}}
- **Tutor:** {{md .Exam.TutorName}}
- **Pet:** {{md .Exam.PetName}}
- **Raça:** {{md .Exam.Breed}}
- **Exame:** {{md .Exam.ExamType}}
- **Data:** {{.PerformedOn}}
{{if .ActivationLink}}
**Primeiro acesso:** crie sua senha aqui:

<{{.ActivationLink}}>
{{end}}
[Fazer login](<{{.LoginLink}}>)

[Abrir exame (após login)](<{{.ExamLink}}>)

— LumaVet
`))

type examEmail struct {
	Recipient      string
	Exam           *domain.Exam
	PerformedOn    string
	ActivationLink string
	LoginLink      string
	ExamLink       string
}

// Notifier composes exam emails and hands them to a Transport
type Notifier struct {
	transport Transport
	from      string
	siteURL   string
	md        goldmark.Markdown
}

// New creates a Notifier. siteURL is the public base used for login and exam links.
func New(transport Transport, from, siteURL string) *Notifier {
	return &Notifier{
		transport: transport,
		from:      from,
		siteURL:   strings.TrimRight(siteURL, "/"),
		md:        goldmark.New(),
	}
}

// LoginLink is the public login page URL
func (n *Notifier) LoginLink() string {
	return n.siteURL + "/login"
}

// ExamLink is the public URL of an exam page
func (n *Notifier) ExamLink(examID string) string {
	return n.siteURL + "/exams/" + examID
}

// SendExamEmail tells to that exam was registered. A blank address sends
// nothing and returns false. activationLink, when set, adds the first-access
// block.
func (n *Notifier) SendExamEmail(ctx context.Context, exam *domain.Exam, to, recipientLabel, activationLink string) (bool, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		metrics.RecordNotification(metrics.ResultSkipped)
		return false, nil
	}

	msg, err := n.Compose(exam, to, recipientLabel, activationLink)
	if err != nil {
		metrics.RecordNotification(metrics.ResultFailed)
		return false, err
	}
	if err := n.transport.Send(ctx, msg); err != nil {
		metrics.RecordNotification(metrics.ResultFailed)
		return false, fmt.Errorf("send exam email: %w", err)
	}

	metrics.RecordNotification(metrics.ResultSuccess)
	log.Info().
		Str("exam_id", exam.ID).
		Str("to", to).
		Bool("activation", activationLink != "").
		Msg("Exam email sent")
	return true, nil
}

// Compose renders the message without sending it
func (n *Notifier) Compose(exam *domain.Exam, to, recipientLabel, activationLink string) (*Message, error) {
	data := examEmail{
		Recipient:      recipientLabel,
		Exam:           exam,
		PerformedOn:    exam.PerformedOn.Format(dateLayout),
		ActivationLink: activationLink,
		LoginLink:      n.LoginLink(),
		ExamLink:       n.ExamLink(exam.ID),
	}

	var text bytes.Buffer
	if err := textTemplate.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}

	var source bytes.Buffer
	if err := markdownTemplate.Execute(&source, data); err != nil {
		return nil, fmt.Errorf("render markdown body: %w", err)
	}
	var html bytes.Buffer
	if err := n.md.Convert(source.Bytes(), &html); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	return &Message{
		From:    n.from,
		To:      []string{to},
		Subject: fmt.Sprintf(subjectFormat, exam.ExamType),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// mdEscape backslash-escapes ASCII punctuation so user-supplied names render
// as literal text
func mdEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 && strings.ContainsRune("\\`*_{}[]()<>#+-.!|~&\"'", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseAddress(s string) (string, error) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return "", err
	}
	return a.Address, nil
}
