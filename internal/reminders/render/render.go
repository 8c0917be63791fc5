// Package render fills notification templates from a context map.
package render

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"reminder-engine/internal/common/validation"
	"reminder-engine/internal/models"
)

var (
	// ErrEmptyBody is returned when neither the requested nor the default
	// language has body text.
	ErrEmptyBody = errors.New("template body is empty")

	// ErrPlaceholderMissing is returned by CheckRequired.
	ErrPlaceholderMissing = errors.New("required placeholder missing")
)

type Rendered struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Language string `json:"language"`
}

// Renderer holds the fallback language.
type Renderer struct {
	defaultLang string
}

func New(defaultLang string) *Renderer {
	if defaultLang == "" {
		defaultLang = models.DefaultLanguage
	}
	return &Renderer{defaultLang: defaultLang}
}

// Render picks the text for lang, falling back to the default language, and
// replaces every {{key}} with the context value. Placeholders with no context
// key are left as they are.
func (r *Renderer) Render(tpl *models.NotificationTemplate, data map[string]interface{}, lang string) (Rendered, error) {
	body, bodyLang := r.pick(tpl.BodyByLang, lang)
	if strings.TrimSpace(body) == "" {
		return Rendered{}, fmt.Errorf("%w: template %s lang %s", ErrEmptyBody, tpl.ID, lang)
	}
	subject, _ := r.pick(tpl.SubjectByLang, lang)

	return Rendered{
		Subject:  Substitute(subject, data),
		Body:     Substitute(body, data),
		Language: bodyLang,
	}, nil
}

func (r *Renderer) pick(byLang map[string]string, lang string) (string, string) {
	if text, ok := byLang[lang]; ok && text != "" {
		return text, lang
	}
	return byLang[r.defaultLang], r.defaultLang
}

// Substitute is a literal replace of {{key}} for each key of data.
func Substitute(text string, data map[string]interface{}) string {
	if text == "" || len(data) == 0 {
		return text
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", fmt.Sprint(data[k]))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// CheckRequired fails when data lacks any of the template's required
// placeholders or holds nil for one.
func CheckRequired(tpl *models.NotificationTemplate, data map[string]interface{}) error {
	if len(tpl.RequiredPlaceholders) == 0 {
		return nil
	}
	res, err := validation.Validate(validation.RequiredKeysSchema(tpl.RequiredPlaceholders), data)
	if err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("%w: %s", ErrPlaceholderMissing, strings.Join(res.Fields(), ", "))
	}
	return nil
}
