package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"afriverse/core/internal/models"
)

// Default email templates used as fallback when not found in the database.
// Bodies are HTML; rendering escapes injected values.
var defaultEmailTemplates = map[string]models.EmailTemplate{
	"order_confirmation": {
		TemplateID: "order_confirmation",
		Locale:     "en-US",
		Subject:    "Your {{.AppName}} order is confirmed",
		Body: `<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Thanks for your order, {{.BuyerName}}!</h2>
  <p>You bought <strong>{{.ListingTitle}}</strong> for <strong>{{.TotalAmount}} {{.CurrencyCode}}</strong>.</p>
  <p>Order reference: <code>{{.PurchaseID}}</code></p>
  <p>By choosing pre-loved you saved {{.AmountSaved}} {{.CurrencyCode}} and kept one more garment in circulation.</p>
  <p>The seller has been notified and will arrange shipping to:</p>
  <p>{{.ShippingName}}<br>{{.ShippingLine1}}<br>{{.ShippingCity}} {{.ShippingPostalCode}}<br>{{.ShippingCountry}}</p>
  <p>— The {{.AppName}} team</p>
</body>
</html>`,
	},
	"welcome": {
		TemplateID: "welcome",
		Locale:     "en-US",
		Subject:    "Welcome to {{.AppName}}",
		Body: `<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Welcome, {{.DisplayName}}!</h2>
  <p>Your {{.AppName}} account is ready. List something you no longer wear, or find your next favourite piece.</p>
</body>
</html>`,
	},
}

// RenderedEmail is a template after data substitution, ready to hand to a
// sender.
type RenderedEmail struct {
	Subject string
	HTML    string
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	// Render fetches the template and executes subject and body against data.
	Render(ctx context.Context, templateID, locale string, data map[string]interface{}) (*RenderedEmail, error)
	SaveTemplate(ctx context.Context, tmpl *models.EmailTemplate) error
}

const emailTemplatesCollection = "templates"

// EmailTemplateService handles operations related to email templates.
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService.
func NewEmailTemplateService(db *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{db: db}
}

// GetTemplate retrieves an email template by ID and locale, falling back to
// the built-in defaults.
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	collection := s.db.Collection(emailTemplatesCollection)
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	var tmpl models.EmailTemplate
	err := collection.FindOne(ctx, filter).Decode(&tmpl)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
				return &defaultTemplate, nil
			}
			return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}

	return &tmpl, nil
}

// Render executes the stored template against data. The body is treated as
// HTML (values are escaped); the subject as plain text.
func (s *EmailTemplateService) Render(ctx context.Context, templateID, locale string, data map[string]interface{}) (*RenderedEmail, error) {
	tmpl, err := s.GetTemplate(ctx, templateID, locale)
	if err != nil {
		return nil, err
	}

	subjectTmpl, err := texttemplate.New(templateID + ":subject").Parse(tmpl.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject template %s: %w", templateID, err)
	}
	var subject bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("failed to render subject of %s: %w", templateID, err)
	}

	bodyTmpl, err := template.New(templateID + ":body").Parse(tmpl.Body)
	if err != nil {
		return nil, fmt.Errorf("invalid body template %s: %w", templateID, err)
	}
	var body bytes.Buffer
	if err := bodyTmpl.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render body of %s: %w", templateID, err)
	}

	return &RenderedEmail{Subject: subject.String(), HTML: body.String()}, nil
}

// SaveTemplate upserts an email template.
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, tmpl *models.EmailTemplate) error {
	collection := s.db.Collection(emailTemplatesCollection)
	filter := bson.M{
		"template_id": tmpl.TemplateID,
		"locale":      tmpl.Locale,
	}

	update := bson.M{"$set": tmpl}
	opts := options.Update().SetUpsert(true)

	_, err := collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}

	return nil
}
