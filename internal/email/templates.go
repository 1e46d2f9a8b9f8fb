package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var sydney = loadSydney()

func loadSydney() *time.Location {
	loc, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		return time.UTC
	}
	return loc
}

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

type offerCreatedEmailData struct {
	baseEmailData
	InstallerName string
	Suburb        string
	State         string
	Postcode      string
	PropertyType  string
	SystemSize    string
	DistanceKm    int
	Price         string
	ExpiresAt     string
}

type offerAcceptedEmailData struct {
	baseEmailData
	InstallerName    string
	Suburb           string
	State            string
	Postcode         string
	Price            string
	CustomerName     string
	CustomerPhone    string
	CustomerEmail    string
	RefundWindowDays int
}

type refundDecidedEmailData struct {
	baseEmailData
	InstallerName string
	OfferID       string
	Approved      bool
	Reason        string
	Amount        string
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

// formatDollars renders whole dollars, e.g. $85.
func formatDollars(amount int64) string {
	return fmt.Sprintf("$%d", amount)
}

func formatLocal(t time.Time) string {
	return t.In(sydney).Format("Mon 2 Jan 2006 3:04 PM MST")
}

// renderOfferCreated returns the subject and body of a new offer email.
func renderOfferCreated(baseURL string, o OfferDetails) (string, string, error) {
	data := offerCreatedEmailData{
		baseEmailData: baseEmailData{
			Title:    "New lead available",
			Heading:  "New lead available",
			CTALabel: "View offer",
			CTAURL:   offerURL(baseURL, o.OfferID),
		},
		InstallerName: o.InstallerName,
		Suburb:        o.Suburb,
		State:         o.State,
		Postcode:      o.Postcode,
		PropertyType:  o.PropertyType,
		DistanceKm:    o.DistanceKm,
		Price:         formatDollars(o.Price),
		ExpiresAt:     formatLocal(o.ExpiresAt),
	}
	if o.SystemSizeKw != nil {
		data.SystemSize = fmt.Sprintf("%.1f kW", *o.SystemSizeKw)
	}
	body, err := renderEmailTemplate("offer_created.html", data)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf(subjectOfferCreatedFmt, o.Suburb, o.State), body, nil
}

// renderOfferAccepted returns the subject and body of a purchase confirmation.
func renderOfferAccepted(o OfferDetails) (string, string, error) {
	body, err := renderEmailTemplate("offer_accepted.html", offerAcceptedEmailData{
		baseEmailData: baseEmailData{
			Title:   "Lead purchased",
			Heading: "Lead purchased",
		},
		InstallerName:    o.InstallerName,
		Suburb:           o.Suburb,
		State:            o.State,
		Postcode:         o.Postcode,
		Price:            formatDollars(o.Price),
		CustomerName:     o.CustomerName,
		CustomerPhone:    o.CustomerPhone,
		CustomerEmail:    o.CustomerEmail,
		RefundWindowDays: o.RefundWindowDays,
	})
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf(subjectOfferAcceptedFmt, o.Suburb), body, nil
}

// renderRefundDecided returns the subject and body of a refund decision email.
func renderRefundDecided(r RefundDetails) (string, string, error) {
	subject := subjectRefundRejected
	if r.Approved {
		subject = subjectRefundApproved
	}
	body, err := renderEmailTemplate("refund_decided.html", refundDecidedEmailData{
		baseEmailData: baseEmailData{
			Title:   subject,
			Heading: subject,
		},
		InstallerName: r.InstallerName,
		OfferID:       r.OfferID,
		Approved:      r.Approved,
		Reason:        r.Reason,
		Amount:        formatDollars(r.Amount),
	})
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func offerURL(baseURL, offerID string) string {
	if baseURL == "" {
		return ""
	}
	return baseURL + "/offers/" + offerID
}
