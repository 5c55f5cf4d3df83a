// Package notify renders ticket confirmation emails and hands them to a
// delivery path: an email provider called in-process, or an SQS queue
// drained by the email worker.
package notify

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"ticketing/internal/types"
)

//go:embed templates/ticket.html templates/ticket.txt
var templateFS embed.FS

// templateData is what the ticket templates see. Money is pre-formatted.
type templateData struct {
	Subject       string
	TicketID      int64
	EventTitle    string
	VenueName     string
	StartsAt      string
	AttendeeName  string
	Currency      string
	BasePrice     string
	PlatformFee   string
	ProcessorFee  string
	AmountPaid    string
	BuyerPaysFees bool
	ScanToken     string
	TokenPrefix   string
}

// Renderer renders the ticket confirmation email from embedded templates.
type Renderer struct {
	html   *template.Template
	text   *texttemplate.Template
	places int32
	loc    *time.Location
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithCurrencyPlaces sets the number of decimals money is printed with.
func WithCurrencyPlaces(places int32) RendererOption {
	return func(r *Renderer) { r.places = places }
}

// WithLocation sets the zone event start times are printed in.
func WithLocation(loc *time.Location) RendererOption {
	return func(r *Renderer) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// NewRenderer parses the embedded templates.
func NewRenderer(opts ...RendererOption) (*Renderer, error) {
	htmlSrc, err := templateFS.ReadFile("templates/ticket.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read ticket.html: %w", err)
	}
	textSrc, err := templateFS.ReadFile("templates/ticket.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read ticket.txt: %w", err)
	}

	htmlTmpl, err := template.New("ticket.html").Parse(string(htmlSrc))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse ticket.html: %w", err)
	}
	textTmpl, err := texttemplate.New("ticket.txt").Parse(string(textSrc))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse ticket.txt: %w", err)
	}

	r := &Renderer{html: htmlTmpl, text: textTmpl, places: 2, loc: time.UTC}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RenderTicketEmail returns the subject and both bodies. An empty scanToken
// renders the resend variant, which shows the stored prefix instead.
func (r *Renderer) RenderTicketEmail(d *types.TicketDetails, scanToken string) (string, types.EmailContent, error) {
	if d == nil {
		return "", types.EmailContent{}, errors.New("renderer: ticket details are nil")
	}
	data := r.buildTemplateData(d, scanToken)

	var htmlBuf, textBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return "", types.EmailContent{}, fmt.Errorf("renderer: failed to render HTML for ticket %d: %w", d.TicketID, err)
	}
	if err := r.text.Execute(&textBuf, data); err != nil {
		return "", types.EmailContent{}, fmt.Errorf("renderer: failed to render text for ticket %d: %w", d.TicketID, err)
	}

	return data.Subject, types.EmailContent{HTML: htmlBuf.String(), Text: textBuf.String()}, nil
}

func (r *Renderer) buildTemplateData(d *types.TicketDetails, scanToken string) templateData {
	title := d.EventTitle
	if title == "" {
		title = d.EventID
	}
	name := d.AttendeeName
	if name == "" {
		name = "there"
	}
	var startsAt string
	if !d.EventStartsAt.IsZero() {
		startsAt = d.EventStartsAt.In(r.loc).Format("Mon, Jan 2 2006 at 3:04 PM MST")
	}

	s := d.Snapshot
	return templateData{
		Subject:       "Your ticket for " + title,
		TicketID:      d.TicketID,
		EventTitle:    title,
		VenueName:     d.VenueName,
		StartsAt:      startsAt,
		AttendeeName:  name,
		Currency:      strings.ToUpper(d.Currency),
		BasePrice:     s.BasePrice.StringFixed(r.places),
		PlatformFee:   s.PlatformFee.StringFixed(r.places),
		ProcessorFee:  s.ProcessorFee.StringFixed(r.places),
		AmountPaid:    s.AmountPaid.StringFixed(r.places),
		BuyerPaysFees: s.FeeBearer == types.FeeBearerBuyer,
		ScanToken:     scanToken,
		TokenPrefix:   d.ScanTokenPrefix,
	}
}
