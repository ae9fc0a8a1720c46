package service

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/seventeenk/storefront/internal/core/domain"
)

var (
	freeDownloadTemplate = template.Must(template.New("free").Parse(
		`<p>Thanks for downloading <strong>{{.Title}}</strong></p>
<p><a href="{{.Link}}">Download your file</a></p>
`))

	purchaseTemplate = template.Must(template.New("purchase").Parse(
		`<p>Thank you for your purchase of <strong>{{.Title}}</strong></p>
<p><a href="{{.Link}}">Download your file</a></p>
{{if .Reference}}<p>Order reference: {{.Reference}}</p>
{{end}}`))
)

type emailData struct {
	Title     string
	Link      template.URL
	Reference string
}

func renderFulfillmentEmail(from, to string, item domain.MarketplaceItem, source domain.FulfillmentSource, reference string) (domain.Email, error) {
	tmpl, subject := freeDownloadTemplate, "Your download: "+item.Title
	if source == domain.SourcePayment {
		tmpl, subject = purchaseTemplate, "Purchase successful: "+item.Title
	}

	// DriveLink is validated as an absolute http(s) URL when the item is created.
	data := emailData{
		Title:     item.Title,
		Link:      template.URL(item.DriveLink),
		Reference: reference,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return domain.Email{}, fmt.Errorf("render %s email: %w", source, err)
	}

	return domain.Email{
		From:    from,
		To:      to,
		Subject: subject,
		HTML:    buf.String(),
	}, nil
}
