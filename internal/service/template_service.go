package service

import (
	"regexp"
	"strings"
	"time"

	"prayerflow/internal/models"

	"go.uber.org/zap"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

// dateLayout matches the day/month/year format the church staff is used to
const dateLayout = "2/1/2006"

// RenderContext carries the values a template can reference
type RenderContext struct {
	ContactName   string
	ChurchName    string
	CategoryName  string
	PastorName    string
	RequestText   string
	ChurchContact string
	Date          time.Time
}

// variables maps every supported placeholder, English and Spanish, to its value
func (rc RenderContext) variables() map[string]string {
	date := rc.Date.Format(dateLayout)
	return map[string]string{
		"name":      rc.ContactName,
		"nombre":    rc.ContactName,
		"church":    rc.ChurchName,
		"iglesia":   rc.ChurchName,
		"category":  rc.CategoryName,
		"categoria": rc.CategoryName,
		"date":      date,
		"fecha":     date,
		"pastor":    rc.PastorName,
		"request":   rc.RequestText,
		"peticion":  rc.RequestText,
		"contact":   rc.ChurchContact,
		"contacto":  rc.ChurchContact,
	}
}

// TemplateService selects and renders response templates
type TemplateService struct {
	logger *zap.Logger
}

// NewTemplateService creates a new template service
func NewTemplateService(logger *zap.Logger) *TemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{logger: logger}
}

// Render substitutes placeholders in the template's subject and content.
// Unknown placeholders render as empty strings. The output depends only on
// the template and the context.
func (s *TemplateService) Render(tmpl *models.ResponseTemplate, rc RenderContext) models.MessageContent {
	vars := rc.variables()

	content := models.MessageContent{Body: s.renderText(tmpl.ID, tmpl.Content, vars)}
	if tmpl.Subject != nil {
		subject := s.renderText(tmpl.ID, *tmpl.Subject, vars)
		content.Subject = &subject
	}
	return content
}

func (s *TemplateService) renderText(templateID int, text string, vars map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := vars[name]; ok {
			return value
		}
		s.logger.Warn("Unresolved template variable",
			zap.Int("template_id", templateID),
			zap.String("variable", name),
		)
		return ""
	})
}

// Select picks the template for one channel: the explicit template when it is
// active and compatible, else a category template, else the most specific
// default. Returns nil when nothing applies.
func (s *TemplateService) Select(templates []*models.ResponseTemplate, explicitID *int, categoryID int, channel models.Channel) *models.ResponseTemplate {
	if explicitID != nil {
		for _, t := range templates {
			if t.ID == *explicitID && t.IsActive && t.MessageType.Covers(channel) {
				return t
			}
		}
		s.logger.Warn("Explicit template unavailable for channel, falling back",
			zap.Int("template_id", *explicitID),
			zap.String("channel", string(channel)),
		)
	}

	if t := mostSpecific(templates, channel, func(t *models.ResponseTemplate) bool {
		return t.CategoryID != nil && *t.CategoryID == categoryID
	}); t != nil {
		return t
	}

	return mostSpecific(templates, channel, func(t *models.ResponseTemplate) bool {
		return t.IsDefault
	})
}

// mostSpecific returns the first active template accepted by keep, preferring
// an exact channel match over "all". Ties go to the lowest ID.
func mostSpecific(templates []*models.ResponseTemplate, channel models.Channel, keep func(*models.ResponseTemplate) bool) *models.ResponseTemplate {
	var exact, wildcard *models.ResponseTemplate
	for _, t := range templates {
		if !t.IsActive || !t.MessageType.Covers(channel) || !keep(t) {
			continue
		}
		if t.MessageType == channel {
			if exact == nil || t.ID < exact.ID {
				exact = t
			}
		} else if wildcard == nil || t.ID < wildcard.ID {
			wildcard = t
		}
	}
	if exact != nil {
		return exact
	}
	return wildcard
}
