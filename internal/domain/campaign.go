package domain

// Template is the subject/body pair rendered once per recipient. Each part
// may contain zero or more {column_name} placeholders.
type Template struct {
	Name     string `json:"name" yaml:"name"`
	Subject  string `json:"subject" yaml:"subject"`
	HTMLBody string `json:"html_body" yaml:"html_body"`
	TextBody string `json:"text_body" yaml:"text_body"`
}

// IsEmpty returns true when the template has nothing to render.
func (t Template) IsEmpty() bool {
	return t.Subject == "" && t.HTMLBody == "" && t.TextBody == ""
}
