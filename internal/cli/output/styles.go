package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used for text output.
type Styles struct {
	Header     lipgloss.Style
	Success    lipgloss.Style
	Warning    lipgloss.Style
	Error      lipgloss.Style
	Muted      lipgloss.Style
	ID         lipgloss.Style
	Classifier lipgloss.Style
	Home       lipgloss.Style
}

// DefaultStyles returns the colored styles used on terminals.
func DefaultStyles() *Styles {
	return &Styles{
		Header:     lipgloss.NewStyle().Bold(true),
		Success:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Muted:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		ID:         lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		Classifier: lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		Home:       lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true),
	}
}

// PlainStyles returns styles that render text unchanged.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Header:     plain,
		Success:    plain,
		Warning:    plain,
		Error:      plain,
		Muted:      plain,
		ID:         plain,
		Classifier: plain,
		Home:       plain,
	}
}
