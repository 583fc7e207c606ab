package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailforge/models"
)

func TestRenderTemplate(t *testing.T) {
	contact := &models.Contact{
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		JobTitle:  "Engineer",
		Company:   &models.Company{Name: "Analytical Engines"},
	}

	out := RenderTemplate(
		"Hi {{first_name}} {{last_name}} ({{full_name}}), {{job_title}} at {{company}}. Reach you at {{email}}?",
		contact)
	assert.Equal(t,
		"Hi Ada Lovelace (Ada Lovelace), Engineer at Analytical Engines. Reach you at ada@example.com?",
		out)
}

func TestRenderTemplateMissingFields(t *testing.T) {
	contact := &models.Contact{Email: "x@example.com", FirstName: "Ada"}

	out := RenderTemplate("{{first_name}} {{last_name}} {{company}}", contact)
	assert.Equal(t, "Ada  ", out)

	// Full name tolerates a missing last name
	assert.Equal(t, "Ada", RenderTemplate("{{full_name}}", contact))
}

func TestRenderTemplateUnknownTokenVerbatim(t *testing.T) {
	contact := &models.Contact{FirstName: "Ada"}
	assert.Equal(t, "Hi Ada, {{unknown}}", RenderTemplate("Hi {{first_name}}, {{unknown}}", contact))
}

func TestRenderTemplateRepeatedToken(t *testing.T) {
	contact := &models.Contact{FirstName: "Ada"}
	assert.Equal(t, "Ada Ada Ada", RenderTemplate("{{first_name}} {{first_name}} {{first_name}}", contact))
}
