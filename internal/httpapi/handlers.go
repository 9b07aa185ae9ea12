package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/language"
	"github.com/skypol2113/magic-worker/internal/pipeline"
	"github.com/skypol2113/magic-worker/internal/translation"
	payloadschema "github.com/skypol2113/magic-worker/schema"
)

const (
	healthTimeout      = 3 * time.Second
	maxRequestBody     = 64 << 10
	selftestPreviewLen = 6
)

type textRequest struct {
	Text string `json:"text"`
}

type translateRequest struct {
	Text     string `json:"text"`
	From     string `json:"from"`
	To       string `json:"to"`
	Provider string `json:"provider"`
}

type outcomeView struct {
	IntentID   string   `json:"intent_id"`
	Kind       string   `json:"kind"`
	Skipped    bool     `json:"skipped"`
	SkipReason string   `json:"skip_reason,omitempty"`
	Lang       string   `json:"normalized_lang,omitempty"`
	Text       string   `json:"normalized_text,omitempty"`
	Translated bool     `json:"translated"`
	Embedded   bool     `json:"embedded"`
	Tier       string   `json:"tier,omitempty"`
	Candidates int      `json:"candidates"`
	Created    []string `json:"created"`
	Duplicates int      `json:"duplicates"`
	ElapsedMs  int64    `json:"elapsed_ms"`
}

type matchView struct {
	PairKey     string     `json:"pair_key"`
	IntentA     string     `json:"intent_a"`
	IntentB     string     `json:"intent_b"`
	OwnerA      string     `json:"owner_a"`
	OwnerB      string     `json:"owner_b"`
	Score       float64    `json:"score"`
	Confidence  float64    `json:"confidence"`
	MatchType   string     `json:"match_type"`
	Category    string     `json:"category"`
	Label       string     `json:"label"`
	MatchedText string     `json:"matched_text"`
	Status      string     `json:"status"`
	DeliveredTo []string   `json:"delivered_to"`
	ClosedBy    string     `json:"closed_by_side,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("health check database ping failed")
		return failUnavailable(c, "database unavailable")
	}
	return success(c, map[string]any{
		"service": "magic-worker",
		"engine":  s.deps.Engine.Stats().State,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.deps.Store.QueryStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, map[string]any{
		"store":  stats,
		"engine": s.deps.Engine.Stats(),
	})
}

func (s *Server) handleIndex(c echo.Context) error {
	if s.deps.Index == nil {
		return failUnavailable(c, "vector index is not configured")
	}
	return success(c, s.deps.Index.Status())
}

func (s *Server) handleDetect(c echo.Context) error {
	if s.deps.Detector == nil {
		return failUnavailable(c, "language detector is not configured")
	}
	var req textRequest
	if err := bindJSON(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return failValidation(c, map[string]string{"text": "is required"})
	}

	lang, err := s.deps.Detector.DetectLanguage(c.Request().Context(), text)
	if err != nil {
		s.logger.Warn().Err(err).Str("detector", s.deps.Detector.Name()).Msg("language detection failed")
		lang = language.Undetermined
	}
	return success(c, map[string]any{
		"lang":     lang,
		"detector": s.deps.Detector.Name(),
	})
}

func (s *Server) handleTranslate(c echo.Context) error {
	if s.deps.Translations == nil {
		return failUnavailable(c, "translation is not configured")
	}
	var req translateRequest
	if err := bindJSON(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}

	fieldErrors := map[string]string{}
	if strings.TrimSpace(req.Text) == "" {
		fieldErrors["text"] = "is required"
	}
	if strings.TrimSpace(req.From) == "" {
		fieldErrors["from"] = "is required"
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	target := strings.TrimSpace(req.To)
	if target == "" {
		target = s.opts.CanonicalLang
	}
	if translation.ShouldSkip(req.From, target) {
		return success(c, map[string]any{
			"text":       req.Text,
			"translated": false,
			"from":       language.NormalizeCode(req.From),
			"to":         language.NormalizeCode(target),
		})
	}

	provider, err := s.deps.Translations.Provider(req.Provider)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}
	resp, err := provider.Translate(c.Request().Context(), translation.TranslateRequest{
		Text:       req.Text,
		SourceLang: req.From,
		TargetLang: target,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider.Name()).Msg("translate request failed")
		return fail(c, http.StatusBadGateway, "translation provider failed", map[string]any{
			"provider": provider.Name(),
		})
	}
	return success(c, map[string]any{
		"text":       resp.Text,
		"translated": true,
		"from":       resp.SourceLang,
		"to":         resp.TargetLang,
		"provider":   resp.ProviderName,
		"latency_ms": resp.LatencyMs,
	})
}

func (s *Server) handleEmbeddingSelftest(c echo.Context) error {
	if s.deps.Embedder == nil {
		return failUnavailable(c, "embeddings are not configured")
	}
	var req textRequest
	if err := bindJSON(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = "embedding self test"
	}

	result, err := s.deps.Embedder.Embed(c.Request().Context(), text)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", s.deps.Embedder.Name()).Msg("embedding self test failed")
		return fail(c, http.StatusBadGateway, "embedding provider failed", map[string]any{
			"provider": s.deps.Embedder.Name(),
		})
	}
	preview := result.Vector
	if len(preview) > selftestPreviewLen {
		preview = preview[:selftestPreviewLen]
	}
	return success(c, map[string]any{
		"provider":   result.Provider,
		"model":      result.Model,
		"dim":        result.Dim,
		"preview":    preview,
		"elapsed_ms": result.ElapsedMs,
	})
}

// handlePublishIntent stores a published intent. With ?sync=true it is
// processed inline and the outcome is returned, otherwise the change feed
// picks it up.
func (s *Server) handlePublishIntent(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRequestBody))
	if err != nil {
		return fail(c, http.StatusBadRequest, "failed to read request body", nil)
	}
	payload, err := payloadschema.ValidateIntentPayload(body)
	if err != nil {
		var payloadErr *payloadschema.PayloadError
		if errors.As(err, &payloadErr) {
			return failValidation(c, payloadErr.Fields)
		}
		s.logger.Error().Err(err).Msg("intent schema unavailable")
		return internalError(c, "Failed to validate intent")
	}

	id := payload.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := payload.Status
	if status == "" {
		status = db.StatusPublished
	}

	ctx := c.Request().Context()
	intent, err := s.deps.Store.CreateIntent(ctx, db.CreateIntentParams{
		ID:           id,
		Kind:         payload.Kind,
		OwnerID:      payload.OwnerID,
		RawText:      payload.Text,
		DeclaredLang: payload.Lang,
		Status:       status,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("intent_id", id).Msg("create intent failed")
		return internalError(c, "Failed to create intent")
	}

	data := map[string]any{
		"intent_id": intent.ID,
		"kind":      intent.Kind,
		"status":    intent.Status,
	}
	if !strings.EqualFold(c.QueryParam("sync"), "true") {
		return successWithStatus(c, http.StatusAccepted, data)
	}

	outcome, err := s.deps.Engine.ProcessIntent(ctx, intent.ID)
	if err != nil {
		if errors.Is(err, pipeline.ErrEngineNotReady) {
			return failUnavailable(c, "engine is not ready")
		}
		s.logger.Error().Err(err).Str("intent_id", intent.ID).Msg("inline processing failed")
		return internalError(c, "Failed to process intent")
	}
	data["outcome"] = newOutcomeView(outcome)
	return successWithStatus(c, http.StatusCreated, data)
}

func (s *Server) handleRetractIntent(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}

	ctx := c.Request().Context()
	changed, err := s.deps.Store.SetIntentStatus(ctx, id, db.StatusUnpublished)
	if err != nil {
		s.logger.Error().Err(err).Str("intent_id", id).Msg("unpublish intent failed")
		return internalError(c, "Failed to retract intent")
	}
	if !changed {
		// Already unpublished, or missing.
		if _, err := s.deps.Store.GetIntent(ctx, id); err != nil {
			if db.IsNoRows(err) {
				return failNotFound(c, "Intent not found")
			}
			s.logger.Error().Err(err).Str("intent_id", id).Msg("get intent failed")
			return internalError(c, "Failed to retract intent")
		}
	}

	result, err := s.deps.Engine.OnIntentRetracted(ctx, id)
	if err != nil {
		if errors.Is(err, pipeline.ErrEngineNotReady) {
			return failUnavailable(c, "engine is not ready")
		}
		s.logger.Error().Err(err).Str("intent_id", id).Msg("retract intent failed")
		return internalError(c, "Failed to retract intent")
	}
	return success(c, map[string]any{
		"intent_id": id,
		"scanned":   result.Scanned,
		"voided":    result.Voided,
	})
}

func (s *Server) handleIntentMatches(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}

	ctx := c.Request().Context()
	if _, err := s.deps.Store.GetIntent(ctx, id); err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Intent not found")
		}
		s.logger.Error().Err(err).Str("intent_id", id).Msg("get intent failed")
		return internalError(c, "Failed to load intent")
	}

	matches, err := s.deps.Store.ListMatchesForIntent(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("intent_id", id).Msg("list matches failed")
		return internalError(c, "Failed to load matches")
	}
	views := make([]matchView, 0, len(matches))
	for _, m := range matches {
		views = append(views, newMatchView(m))
	}
	return success(c, map[string]any{
		"intent_id": id,
		"matches":   views,
	})
}

func (s *Server) handleGetMatch(c echo.Context) error {
	key := strings.TrimSpace(c.Param("pair_key"))
	match, err := s.deps.Store.GetMatch(c.Request().Context(), key)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Match not found")
		}
		s.logger.Error().Err(err).Str("pair_key", key).Msg("get match failed")
		return internalError(c, "Failed to load match")
	}
	return success(c, newMatchView(match))
}

func bindJSON(c echo.Context, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(c.Request().Body, maxRequestBody))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func newOutcomeView(o pipeline.Outcome) outcomeView {
	created := o.Created
	if created == nil {
		created = []string{}
	}
	return outcomeView{
		IntentID:   o.IntentID,
		Kind:       string(o.Kind),
		Skipped:    o.Skipped,
		SkipReason: o.SkipReason,
		Lang:       o.Normalized.Lang,
		Text:       o.Normalized.Text,
		Translated: o.Normalized.Translated,
		Embedded:   o.Embedded,
		Tier:       string(o.Tier),
		Candidates: o.Candidates,
		Created:    created,
		Duplicates: o.Duplicates,
		ElapsedMs:  o.ElapsedMs,
	}
}

func newMatchView(m db.Match) matchView {
	delivered := m.DeliveredTo
	if delivered == nil {
		delivered = []string{}
	}
	return matchView{
		PairKey:     m.PairKey,
		IntentA:     m.IntentA,
		IntentB:     m.IntentB,
		OwnerA:      m.OwnerA,
		OwnerB:      m.OwnerB,
		Score:       m.Score,
		Confidence:  m.Confidence,
		MatchType:   m.MatchType,
		Category:    m.Category,
		Label:       m.Label,
		MatchedText: m.MatchedText,
		Status:      m.Status,
		DeliveredTo: delivered,
		ClosedBy:    m.ClosedBySide,
		ArchivedAt:  m.ArchivedAt,
		CreatedAt:   m.CreatedAt,
	}
}
