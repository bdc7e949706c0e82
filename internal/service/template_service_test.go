package service_test

import (
	"testing"
	"time"

	"prayerflow/internal/models"
	"prayerflow/internal/service"
	"prayerflow/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderContext() service.RenderContext {
	return service.RenderContext{
		ContactName:   "María García",
		ChurchName:    "Iglesia Central",
		CategoryName:  "Salud",
		PastorName:    "Pastor Juan",
		RequestText:   "Oro por mi madre",
		ChurchContact: "contacto@iglesia.org",
		Date:          time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC),
	}
}

// TestTemplateRendering_AllVariables covers every placeholder in both languages
func TestTemplateRendering_AllVariables(t *testing.T) {
	svc := service.NewTemplateService(nil)

	testCases := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "spanish names",
			content:  "Querido/a {nombre}, en {iglesia} oramos por tu petición de {categoria}.",
			expected: "Querido/a María García, en Iglesia Central oramos por tu petición de Salud.",
		},
		{
			name:     "english names",
			content:  "Dear {name}, {church} is praying for your {category} request.",
			expected: "Dear María García, Iglesia Central is praying for your Salud request.",
		},
		{
			name:     "date uses day/month/year",
			content:  "Recibido el {fecha} ({date})",
			expected: "Recibido el 3/6/2024 (3/6/2024)",
		},
		{
			name:     "pastor, request and contact",
			content:  "{pastor}: \"{peticion}\" / {request}. Escríbenos a {contacto} o {contact}.",
			expected: "Pastor Juan: \"Oro por mi madre\" / Oro por mi madre. Escríbenos a contacto@iglesia.org o contacto@iglesia.org.",
		},
		{
			name:     "unknown variable renders empty",
			content:  "Hola {nombre}{desconocido}!",
			expected: "Hola María García!",
		},
		{
			name:     "no placeholders",
			content:  "Estamos orando por ti.",
			expected: "Estamos orando por ti.",
		},
		{
			name:     "repeated placeholder",
			content:  "{nombre}, {nombre}",
			expected: "María García, María García",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tmpl := testutil.NewTestTemplate(1, models.ChannelEmail, nil, tc.content)
			content := svc.Render(tmpl, renderContext())
			assert.Equal(t, tc.expected, content.Body)
			assert.Nil(t, content.Subject)
		})
	}
}

func TestTemplateRendering_SubjectAndDeterminism(t *testing.T) {
	svc := service.NewTemplateService(nil)

	tmpl := testutil.NewTestTemplate(1, models.ChannelEmail, nil, "Hola {nombre}")
	tmpl.Subject = testutil.StringPtr("Tu petición de {categoria}")

	first := svc.Render(tmpl, renderContext())
	second := svc.Render(tmpl, renderContext())

	require.NotNil(t, first.Subject)
	assert.Equal(t, "Tu petición de Salud", *first.Subject)
	assert.Equal(t, first, second)
	assert.Equal(t, "Hola {nombre}", tmpl.Content, "template must not be modified")
}

func TestTemplateService_Select(t *testing.T) {
	svc := service.NewTemplateService(nil)
	health := 1

	categoryAll := testutil.NewTestTemplate(10, models.ChannelAll, &health, "salud todas")
	categoryEmail := testutil.NewTestTemplate(11, models.ChannelEmail, &health, "salud email")
	defaultAll := testutil.NewTestTemplate(20, models.ChannelAll, nil, "predeterminada")
	defaultAll.IsDefault = true
	defaultSMS := testutil.NewTestTemplate(21, models.ChannelSMS, nil, "breve")
	defaultSMS.IsDefault = true
	explicitSMS := testutil.NewTestTemplate(30, models.ChannelSMS, nil, "explícita sms")
	inactive := testutil.NewTestTemplate(5, models.ChannelEmail, &health, "inactiva")
	inactive.IsActive = false

	templates := []*models.ResponseTemplate{categoryAll, categoryEmail, defaultAll, defaultSMS, explicitSMS, inactive}

	testCases := []struct {
		name       string
		explicitID *int
		categoryID int
		channel    models.Channel
		expectedID int
	}{
		{"category exact channel wins over all", nil, 1, models.ChannelEmail, 11},
		{"category all covers sms", nil, 1, models.ChannelSMS, 10},
		{"default exact channel for unknown category", nil, 9, models.ChannelSMS, 21},
		{"default all for whatsapp", nil, 9, models.ChannelWhatsApp, 20},
		{"explicit template wins", testutil.IntPtr(30), 1, models.ChannelSMS, 30},
		{"explicit with wrong channel falls back", testutil.IntPtr(30), 1, models.ChannelEmail, 11},
		{"inactive explicit falls back", testutil.IntPtr(5), 9, models.ChannelEmail, 20},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := svc.Select(templates, tc.explicitID, tc.categoryID, tc.channel)
			require.NotNil(t, got)
			assert.Equal(t, tc.expectedID, got.ID)
		})
	}
}

func TestTemplateService_SelectTiesAndMisses(t *testing.T) {
	svc := service.NewTemplateService(nil)

	a := testutil.NewTestTemplate(7, models.ChannelAll, nil, "a")
	a.IsDefault = true
	b := testutil.NewTestTemplate(3, models.ChannelAll, nil, "b")
	b.IsDefault = true

	got := svc.Select([]*models.ResponseTemplate{a, b}, nil, 1, models.ChannelEmail)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.ID, "lowest ID wins a tie")

	plain := testutil.NewTestTemplate(1, models.ChannelEmail, nil, "no default")
	assert.Nil(t, svc.Select([]*models.ResponseTemplate{plain}, nil, 1, models.ChannelEmail))
}
