package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-watch/pkg/llm"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/prompts"
)

// defaultConfidence applies when the model omits or garbles confidence.
const defaultConfidence = 0.5

// EnrichmentService turns a competitor-matched signal into a structured impact analysis.
type EnrichmentService interface {
	// Analyze calls the model once. The returned analysis is not persisted.
	Analyze(ctx context.Context, signal *models.CompetitorSignal, competitor *models.CompetitorEntity) (*models.CompetitorAnalysis, error)
}

type enrichmentService struct {
	client      llm.LLMClient
	temperature float64
	logger      *zap.Logger
}

// NewEnrichmentService creates an EnrichmentService backed by the given model client.
func NewEnrichmentService(client llm.LLMClient, temperature float64, logger *zap.Logger) EnrichmentService {
	return &enrichmentService{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("enrichment-service"),
	}
}

var _ EnrichmentService = (*enrichmentService)(nil)

// analysisResponse mirrors the JSON the prompt asks for. Fields are raw so that
// numbers-as-strings and single-string lists still parse.
type analysisResponse struct {
	Analysis        json.RawMessage `json:"analysis"`
	Impact          json.RawMessage `json:"impact"`
	Confidence      json.RawMessage `json:"confidence"`
	Recommendations json.RawMessage `json:"recommendations"`
}

func (s *enrichmentService) Analyze(ctx context.Context, signal *models.CompetitorSignal, competitor *models.CompetitorEntity) (*models.CompetitorAnalysis, error) {
	prompt := prompts.BuildSignalAnalysisPrompt(signalContext(signal), competitorContext(competitor), models.MaxRecommendations)

	result, err := s.client.GenerateResponse(ctx, prompt, prompts.BuildSignalAnalysisSystemMessage(), s.temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to generate analysis: %w", err)
	}

	analysis, err := parseAnalysis(result.Content)
	if err != nil {
		s.logger.Warn("Unusable enrichment response",
			zap.String("signal_id", signal.ID.String()),
			zap.String("model", s.client.GetModel()),
			zap.Error(err))
		return nil, err
	}
	analysis.SignalID = signal.ID
	analysis.CompetitorID = competitor.ID

	s.logger.Debug("Signal analyzed",
		zap.String("signal_id", signal.ID.String()),
		zap.String("competitor", competitor.Name),
		zap.String("impact", analysis.Impact),
		zap.Float64("confidence", analysis.Confidence),
		zap.Int("total_tokens", result.TotalTokens))

	return analysis, nil
}

// parseAnalysis normalizes a model response. An empty analysis text is an error;
// everything else degrades to defaults.
func parseAnalysis(content string) (*models.CompetitorAnalysis, error) {
	raw, err := llm.ParseJSONResponse[analysisResponse](content)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(jsonutil.FlexibleStringValue(raw.Analysis))
	if text == "" {
		return nil, fmt.Errorf("model returned an empty analysis")
	}

	impact := strings.ToLower(strings.TrimSpace(jsonutil.FlexibleStringValue(raw.Impact)))
	if !models.ValidImpact(impact) {
		impact = models.ImpactMedium
	}

	recommendations := jsonutil.FlexibleStringList(raw.Recommendations)
	if len(recommendations) > models.MaxRecommendations {
		recommendations = recommendations[:models.MaxRecommendations]
	}
	if recommendations == nil {
		recommendations = []string{}
	}

	return &models.CompetitorAnalysis{
		Analysis:        text,
		Impact:          impact,
		Confidence:      normalizeConfidence(raw.Confidence),
		Recommendations: recommendations,
	}, nil
}

// normalizeConfidence maps the model's confidence onto [0, 1].
// Values in (1, 100] are read as percentages.
func normalizeConfidence(raw json.RawMessage) float64 {
	c, ok := jsonutil.FlexibleFloatValue(raw)
	if !ok {
		return defaultConfidence
	}
	if c > 1 && c <= 100 {
		c /= 100
	}
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func signalContext(s *models.CompetitorSignal) prompts.SignalContext {
	sc := prompts.SignalContext{
		Type:         s.Type,
		Source:       s.Source,
		Jurisdiction: s.Jurisdiction,
		Title:        s.Title,
		OccurredAt:   s.OccurredAt,
		Priority:     s.Priority,
		RawData:      s.RawData,
	}
	if s.Address != nil {
		sc.Address = *s.Address
	}
	if s.Link != nil {
		sc.Link = *s.Link
	}
	return sc
}

func competitorContext(e *models.CompetitorEntity) prompts.CompetitorContext {
	return prompts.CompetitorContext{
		Name:     e.Name,
		Type:     e.Type,
		Keywords: e.Keywords,
	}
}
