package generation

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
)

// Field names one of the two generated texts.
type Field string

// Generated fields.
const (
	FieldAssessment Field = "assessment"
	FieldGuidance   Field = "guidance"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

// Prompts holds the parsed template set of each field. Every set defines a
// "system" and a "user" template.
type Prompts struct {
	sets map[Field]*template.Template
}

// promptData is the view of an InputContext exposed to templates.
type promptData struct {
	Subject       string
	Question      string
	Choices       []domain.Choice
	CorrectAnswer string
	Explanation   string
	StudentAnswer string
}

// DefaultPrompts parses the templates compiled into the binary.
func DefaultPrompts() (*Prompts, error) {
	return LoadPrompts("")
}

// LoadPrompts parses the field templates. Files named assessment.tmpl or
// guidance.tmpl in dir replace the embedded ones; an empty dir uses only
// the embedded templates.
func LoadPrompts(dir string) (*Prompts, error) {
	p := &Prompts{sets: make(map[Field]*template.Template, 2)}
	for _, field := range []Field{FieldAssessment, FieldGuidance} {
		name := string(field) + ".tmpl"

		content, err := embeddedTemplates.ReadFile("templates/" + name)
		if err != nil {
			return nil, fmt.Errorf("%w: read embedded template %s: %v", ErrInvalidConfig, name, err)
		}
		if dir != "" {
			override, err := os.ReadFile(filepath.Join(dir, name))
			switch {
			case err == nil:
				content = override
			case !os.IsNotExist(err):
				return nil, fmt.Errorf("%w: read template %s: %v", ErrInvalidConfig, name, err)
			}
		}

		tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("%w: parse template %s: %v", ErrInvalidConfig, name, err)
		}
		for _, part := range []string{"system", "user"} {
			if tmpl.Lookup(part) == nil {
				return nil, fmt.Errorf("%w: template %s does not define %q", ErrInvalidConfig, name, part)
			}
		}
		p.sets[field] = tmpl
	}
	return p, nil
}

// Render produces the system and user messages of field for in.
func (p *Prompts) Render(field Field, in domain.InputContext) (system, user string, err error) {
	tmpl, ok := p.sets[field]
	if !ok {
		return "", "", fmt.Errorf("no template for field %q", field)
	}

	data := newPromptData(in)
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "system", data); err != nil {
		return "", "", fmt.Errorf("render %s system prompt: %w", field, err)
	}
	system = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := tmpl.ExecuteTemplate(&buf, "user", data); err != nil {
		return "", "", fmt.Errorf("render %s user prompt: %w", field, err)
	}
	user = strings.TrimSpace(buf.String())

	return system, user, nil
}

func newPromptData(in domain.InputContext) promptData {
	choices := make([]domain.Choice, len(in.Question.Choices))
	for i, c := range in.Question.Choices {
		if strings.TrimSpace(c.Label) == "" {
			c.Label = string(rune('A' + i))
		}
		choices[i] = c
	}
	return promptData{
		Subject:       in.Question.Subject,
		Question:      in.Question.Content,
		Choices:       choices,
		CorrectAnswer: in.Question.CorrectAnswer,
		Explanation:   in.Question.Explanation,
		StudentAnswer: in.StudentAnswer,
	}
}
