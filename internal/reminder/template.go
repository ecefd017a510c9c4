package reminder

import (
	_ "embed"
	"errors"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/sypherin/comply/internal/domain"
)

// DefaultSenderName signs reminders when the acting user has no name.
const DefaultSenderName = "Compliance Team"

// Placeholders recognised in a reminder template.
const (
	PlaceholderLearnerName  = "{{LEARNER_NAME}}"
	PlaceholderLearnerEmail = "{{LEARNER_EMAIL}}"
	PlaceholderCourseList   = "{{COURSE_LIST}}"
	PlaceholderSenderName   = "{{SENDER_NAME}}"
)

// ErrTemplateLoad means the reminder body could not be loaded. It blocks the
// whole run.
var ErrTemplateLoad = errors.New("reminder: template load failed")

//go:embed templates/reminder.html
var defaultTemplate string

// Template is a loaded reminder body.
type Template struct {
	body string
}

// LoadTemplate reads the template at path, or the built-in one when path is
// empty. Both a read failure and an empty file wrap ErrTemplateLoad.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return &Template{body: defaultTemplate}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateLoad, err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrTemplateLoad, path)
	}
	return &Template{body: string(b)}, nil
}

// NewTemplate wraps an in-memory template body.
func NewTemplate(body string) *Template {
	return &Template{body: body}
}

// Render fills the placeholders for one group. An empty sender is replaced by
// DefaultSenderName. Values are HTML-escaped.
func (t *Template) Render(g domain.RecipientGroup, sender string) string {
	name := g.DisplayName
	if name == "" {
		name = g.Email
	}
	if strings.TrimSpace(sender) == "" {
		sender = DefaultSenderName
	}

	r := strings.NewReplacer(
		PlaceholderLearnerName, html.EscapeString(name),
		PlaceholderLearnerEmail, html.EscapeString(g.Email),
		PlaceholderCourseList, CourseList(g.Courses),
		PlaceholderSenderName, html.EscapeString(sender),
	)
	return r.Replace(t.body)
}

// CourseList renders courses as HTML list items. Unknown dates render empty.
func CourseList(items []domain.CourseItem) string {
	var sb strings.Builder
	for _, c := range items {
		fmt.Fprintf(&sb, "<li>%s (required: %s)</li>", html.EscapeString(c.Title), c.RequiredDate.String())
	}
	return sb.String()
}
