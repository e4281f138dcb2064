package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// buildCycleSummary renders the human-readable cycle report that is logged and
// returned with the cycle run.
func buildCycleSummary(r *models.CycleReport) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Watch cycle finished in %s (%s back)\n",
		r.FinishedAt.Sub(r.StartedAt).Round(time.Second), countOf(r.DaysBack, "day")))
	writeCounts(&b, "Permits", r.Permits)
	writeCounts(&b, "SEC filings", r.Filings)
	writeCounts(&b, "Agendas", r.Agendas)
	writeCounts(&b, "Total", r.Total)

	if len(r.SkippedJurisdictions) > 0 {
		b.WriteString(fmt.Sprintf("Not due: %s\n", strings.Join(r.SkippedJurisdictions, ", ")))
	}

	a := r.Analysis
	if a.Disabled {
		b.WriteString("Analysis: disabled (no model configured)\n")
	} else {
		b.WriteString(fmt.Sprintf("Analysis: %d analyzed, %d skipped, %d failed, %d deferred of %s\n",
			a.Analyzed, a.Skipped, a.Failed, a.Deferred, countOf(a.Pending, "pending signal")))
	}

	if len(r.TopCompetitors) > 0 {
		parts := make([]string, 0, len(r.TopCompetitors))
		for _, c := range r.TopCompetitors {
			parts = append(parts, fmt.Sprintf("%s (%s)", c.Key, countOf(c.Count, "signal")))
		}
		b.WriteString(fmt.Sprintf("Most active competitors (%s): %s\n",
			countOf(topCompetitorWindowDays, "day"), strings.Join(parts, ", ")))
	} else {
		b.WriteString("Most active competitors: none\n")
	}

	b.WriteString(fmt.Sprintf("Tracking %s and %s",
		countOf(r.JurisdictionsTracked, "jurisdiction"), countOf(r.EntitiesTracked, "competitor entity")))

	return b.String()
}

func writeCounts(b *strings.Builder, label string, c models.ScrapeCounts) {
	b.WriteString(fmt.Sprintf("%s: %d found, %d new (%s, %d failed)\n",
		label, c.Found, c.New, countOf(c.Jobs, "job"), c.Failed))
}

// countOf formats n with the noun's last word pluralized unless n is 1.
func countOf(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	words := strings.Fields(noun)
	words[len(words)-1] = inflection.Plural(words[len(words)-1])
	return fmt.Sprintf("%d %s", n, strings.Join(words, " "))
}
