package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lk2023060901/chatai-backend/internal/chat/judge"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
)

// 核查结论中 correctness >= 3 视为正确
const correctThreshold = 3

type styles struct {
	roles map[types.Role]lipgloss.Style
	other lipgloss.Style
	info  lipgloss.Style
	err   lipgloss.Style
	quote lipgloss.Style
}

func newStyles() styles {
	return styles{
		roles: map[types.Role]lipgloss.Style{
			types.RoleAssistant: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
			types.RoleUser:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		},
		other: lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		info:  lipgloss.NewStyle().Faint(true),
		err:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		quote: lipgloss.NewStyle().Foreground(lipgloss.Color("8")).PaddingLeft(1),
	}
}

type renderer struct {
	out    io.Writer
	styles styles
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, styles: newStyles()}
}

func (r *renderer) role(role types.Role) string {
	style, ok := r.styles.roles[role]
	if !ok {
		style = r.styles.other
	}
	return style.Render(string(role) + ">")
}

func (r *renderer) prompt() {
	fmt.Fprint(r.out, r.role(types.RoleUser)+" ")
}

func (r *renderer) info(s string) {
	fmt.Fprintln(r.out, r.styles.info.Render(s))
}

func (r *renderer) errorf(format string, args ...any) {
	fmt.Fprintln(r.out, r.styles.err.Render(fmt.Sprintf(format, args...)))
}

func (r *renderer) message(m types.Message) {
	for _, item := range m.Content {
		fmt.Fprintf(r.out, "%s %s\n", r.role(m.Role), item.Value)
	}
}

func (r *renderer) factChecks(res *judge.FactCheckResult) {
	if out := formatFactChecks(res); out != "" {
		fmt.Fprintln(r.out, r.styles.quote.Render(out))
	}
}

// formatFactChecks 以引用块列出核查结论与来源
func formatFactChecks(res *judge.FactCheckResult) string {
	if res == nil || len(res.FactChecks) == 0 {
		return ""
	}

	var b strings.Builder
	for i, fc := range res.FactChecks {
		if i > 0 {
			b.WriteString("\n")
		}
		icon := "❌"
		if fc.Correctness >= correctThreshold {
			icon = "✅"
		}
		b.WriteString("> " + icon + "\n")

		if fc.Rebuttal == "" && len(fc.Links) == 0 {
			continue
		}
		b.WriteString("> " + fc.Rebuttal + "\n")
		for _, link := range fc.Links {
			title := link.Title
			if title == "" {
				title = link.URL
			}
			fmt.Fprintf(&b, "> - [%s](%s)\n", title, link.URL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
