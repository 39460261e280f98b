// Package console renders run progress and store contents for the terminal.
package console

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/amishk599/jobscout/internal/model"
	"github.com/amishk599/jobscout/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // bright blue

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	valueStyle = lipgloss.NewStyle().
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")). // dim gray
			Padding(0, 1)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	mutedCellStyle = cellStyle.
			Foreground(lipgloss.Color("240"))
)

// RenderSummary formats the counters of one run.
func RenderSummary(s model.Summary, dryRun bool) string {
	title := "Discovery run"
	if dryRun {
		title += warnStyle.Render(" (dry run, nothing persisted)")
	}
	rows := []struct {
		label string
		value int
	}{
		{"Orgs crawled", s.OrgsCrawled},
		{"Jobs seen", s.JobsSeen},
		{"Jobs inserted", s.JobsInserted},
		{"Domains scored", s.DomainsScored},
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(r.label))
		b.WriteString(valueStyle.Render(strconv.Itoa(r.value)))
	}
	return boxStyle.Render(b.String())
}

// RenderFrontier formats frontier rows as a table. Muted rows are dimmed.
func RenderFrontier(orgs []model.FrontierOrg, now time.Time) string {
	if len(orgs) == 0 {
		return "Frontier is empty."
	}

	muted := make(map[int]bool, len(orgs))
	rows := make([][]string, 0, len(orgs))
	for i, org := range orgs {
		status := "ready"
		if org.MutedUntil != nil && org.MutedUntil.After(now) {
			status = "muted until " + org.MutedUntil.Local().Format("Jan 2 15:04")
			muted[i] = true
		}
		rows = append(rows, []string{
			org.Source,
			org.OrgSlug,
			strconv.Itoa(org.Priority),
			formatAgo(org.LastCrawledAt, now),
			status,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("SOURCE", "ORG", "PRIORITY", "LAST CRAWLED", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerCellStyle
			case muted[row]:
				return mutedCellStyle
			default:
				return cellStyle
			}
		})
	return t.Render() + fmt.Sprintf("\n%d orgs", len(orgs))
}

// RenderPending formats domains awaiting reviewer approval.
func RenderPending(domains []store.PendingDomain) string {
	if len(domains) == 0 {
		return "No domains awaiting review."
	}
	rows := make([][]string, 0, len(domains))
	for _, d := range domains {
		rows = append(rows, []string{d.DomainRoot, strconv.Itoa(d.Events), strconv.Itoa(d.Score)})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("DOMAIN", "POSTINGS", "SCORE").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			return cellStyle
		})
	return t.Render()
}

func formatAgo(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	d := now.Sub(*t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
