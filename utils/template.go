package utils

import (
	"strings"

	"mailforge/models"
)

// RenderTemplate substitutes the fixed personalization tokens in subject or
// body text. Substitution is plain string replacement: repeated tokens all
// get the same value, and tokens outside this set are left verbatim.
func RenderTemplate(text string, contact *models.Contact) string {
	company := ""
	if contact.Company != nil {
		company = contact.Company.Name
	}

	replacements := [][2]string{
		{"{{first_name}}", contact.FirstName},
		{"{{last_name}}", contact.LastName},
		{"{{full_name}}", contact.FullName()},
		{"{{email}}", contact.Email},
		{"{{company}}", company},
		{"{{job_title}}", contact.JobTitle},
	}

	for _, r := range replacements {
		text = strings.ReplaceAll(text, r[0], r[1])
	}
	return text
}
