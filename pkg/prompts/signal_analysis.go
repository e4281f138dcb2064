package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// maxRawDataChars bounds how much of the source payload is shown to the model.
const maxRawDataChars = 2000

// SignalContext describes the observation being analyzed.
type SignalContext struct {
	Type         string
	Source       string
	Jurisdiction string
	Title        string
	Address      string
	OccurredAt   time.Time
	Link         string
	Priority     int
	RawData      map[string]any
}

// CompetitorContext describes the tracked competitor the signal mentions.
type CompetitorContext struct {
	Name     string
	Type     string
	Keywords []string
}

// BuildSignalAnalysisPrompt creates the enrichment prompt for one matched signal.
// The model answers with analysis, impact, confidence and recommendations as JSON.
func BuildSignalAnalysisPrompt(signal SignalContext, competitor CompetitorContext, maxRecommendations int) string {
	var prompt strings.Builder

	prompt.WriteString("# Competitor Signal Analysis\n\n")
	prompt.WriteString("A public-records crawler found an observation that mentions a tracked competitor. ")
	prompt.WriteString("Assess what it means for our real-estate development business.\n\n")

	prompt.WriteString("## Competitor\n\n")
	prompt.WriteString(fmt.Sprintf("- **Name**: %s\n", competitor.Name))
	if competitor.Type != "" {
		prompt.WriteString(fmt.Sprintf("- **Type**: %s\n", competitor.Type))
	}
	if len(competitor.Keywords) > 0 {
		prompt.WriteString(fmt.Sprintf("- **Matched on**: %s\n", strings.Join(competitor.Keywords, ", ")))
	}
	prompt.WriteString("\n")

	prompt.WriteString("## Signal\n\n")
	prompt.WriteString(fmt.Sprintf("- **Kind**: %s (source: %s)\n", signalKind(signal.Type), signal.Source))
	prompt.WriteString(fmt.Sprintf("- **Jurisdiction**: %s\n", signal.Jurisdiction))
	prompt.WriteString(fmt.Sprintf("- **Title**: %s\n", signal.Title))
	if signal.Address != "" {
		prompt.WriteString(fmt.Sprintf("- **Address**: %s\n", signal.Address))
	}
	if !signal.OccurredAt.IsZero() {
		prompt.WriteString(fmt.Sprintf("- **Date**: %s\n", signal.OccurredAt.Format("2006-01-02")))
	}
	if signal.Link != "" {
		prompt.WriteString(fmt.Sprintf("- **Link**: %s\n", signal.Link))
	}
	prompt.WriteString(fmt.Sprintf("- **Heuristic priority**: %d of 9\n", signal.Priority))

	if raw := rawDataExcerpt(signal.RawData); raw != "" {
		prompt.WriteString("\nSource record:\n```json\n")
		prompt.WriteString(raw)
		prompt.WriteString("\n```\n")
	}
	prompt.WriteString("\n")

	prompt.WriteString("## Impact Levels\n")
	prompt.WriteString("- `low`: routine activity, no action needed\n")
	prompt.WriteString("- `medium`: worth tracking, may affect one market\n")
	prompt.WriteString("- `high`: direct competition for sites, tenants or capital in our markets\n")
	prompt.WriteString("- `critical`: merger, major entitlement or financing that changes the competitive landscape\n\n")

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("Respond in JSON with:\n")
	prompt.WriteString("- `analysis`: 2-4 sentences on what the competitor is doing and why it matters\n")
	prompt.WriteString("- `impact`: one of \"low\", \"medium\", \"high\", \"critical\"\n")
	prompt.WriteString("- `confidence`: 0.0-1.0, how sure you are the signal really concerns this competitor\n")
	prompt.WriteString(fmt.Sprintf("- `recommendations`: up to %d short, concrete next steps, most important first\n\n", maxRecommendations))

	prompt.WriteString("Example:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "analysis": "The competitor filed for a 300-unit multi-family permit two miles from our planned site. Delivery would overlap our lease-up window.",
  "impact": "high",
  "confidence": 0.85,
  "recommendations": ["Review our lease-up assumptions for the submarket", "Track the permit through inspection milestones"]
}
`)
	prompt.WriteString("```\n\n")

	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// BuildSignalAnalysisSystemMessage returns the system message for the LLM.
func BuildSignalAnalysisSystemMessage() string {
	return `You are a competitive intelligence analyst for a real-estate developer. You read permits, securities filings and municipal agendas and explain what competitors are doing.`
}

func signalKind(signalType string) string {
	switch signalType {
	case "permit":
		return "building permit"
	case "sec_filing":
		return "securities filing"
	case "agenda":
		return "public meeting agenda item"
	}
	return signalType
}

func rawDataExcerpt(raw map[string]any) string {
	if len(raw) == 0 {
		return ""
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return ""
	}
	s := string(b)
	if len(s) > maxRawDataChars {
		s = s[:maxRawDataChars] + "\n... (truncated)"
	}
	return s
}
