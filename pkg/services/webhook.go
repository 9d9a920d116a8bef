package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const webhookTokenPrefix = "whk_"

var webhookTokenPattern = regexp.MustCompile(`^whk_[a-f0-9]{32}$`)

// GenerateWebhookToken returns "whk_" followed by 32 random hex characters.
func GenerateWebhookToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook token: %w", err)
	}

	return webhookTokenPrefix + hex.EncodeToString(buf), nil
}

// ValidWebhookToken reports whether token has the webhook token format.
func ValidWebhookToken(token string) bool {
	return webhookTokenPattern.MatchString(token)
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}

// StartOption customizes a single StartExecution call.
type StartOption func(*startConfig)

type startConfig struct {
	triggerNodeID string
}

// WithTriggerNode starts the run from a specific trigger node.
func WithTriggerNode(nodeID string) StartOption {
	return func(c *startConfig) {
		c.triggerNodeID = nodeID
	}
}

// ExecutionStarter starts automation runs.
type ExecutionStarter interface {
	StartExecution(ctx context.Context, automationID string, input map[string]any, opts ...StartOption) (string, error)
}

// WebhookConfig holds the inbound webhook settings.
type WebhookConfig struct {
	// BaseURL is used when no SystemConfig "baseUrl" is stored.
	BaseURL string
	// RatePerSecond limits accepted calls per tool. Zero disables limiting.
	RatePerSecond float64
	Burst         int
}

// Webhooks issues webhook trigger tools and accepts their inbound calls.
type Webhooks struct {
	store   *persistence.Store
	starter ExecutionStarter
	config  WebhookConfig
	logger  *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewWebhooks(store *persistence.Store, starter ExecutionStarter, config WebhookConfig, logger *slog.Logger) *Webhooks {
	if config.Burst <= 0 {
		config.Burst = 1
	}

	return &Webhooks{
		store:    store,
		starter:  starter,
		config:   config,
		logger:   logger.With("module", "webhooks"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// CreateWebhookToolRequest describes a new webhook trigger tool.
type CreateWebhookToolRequest struct {
	Name        string         `json:"name"                  validate:"required,min=1"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// CreateTool stores a WEBHOOK SystemTool with a fresh token and its URL.
func (w *Webhooks) CreateTool(ctx context.Context, req CreateWebhookToolRequest) (*models.SystemTool, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}

	token, err := GenerateWebhookToken()
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()

	baseURL, err := w.baseURL(ctx)
	if err != nil {
		return nil, err
	}

	tool := &models.SystemTool{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Type:        models.ToolTypeWebhook,
		Config:      map[string]any{},
		InputSchema: req.InputSchema,
		Webhook: &models.WebhookInfo{
			Token: token,
			URL:   WebhookURL(baseURL, id),
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := w.store.Tools.Create(ctx, tool); err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Webhook tool created", "tool_id", id)

	return tool, nil
}

// RotateToken replaces the token of a webhook tool.
func (w *Webhooks) RotateToken(ctx context.Context, toolID string) (*models.SystemTool, error) {
	tool, err := w.webhookTool(ctx, toolID)
	if err != nil {
		return nil, err
	}

	token, err := GenerateWebhookToken()
	if err != nil {
		return nil, err
	}

	updated := *tool
	updated.Webhook = &models.WebhookInfo{Token: token, URL: tool.Webhook.URL}

	if err := w.store.Tools.Update(ctx, &updated); err != nil {
		return nil, err
	}

	return &updated, nil
}

// WebhookURL builds "<baseURL>/api/webhooks/<toolID>".
func WebhookURL(baseURL, toolID string) string {
	return strings.TrimRight(baseURL, "/") + "/api/webhooks/" + toolID
}

func (w *Webhooks) baseURL(ctx context.Context) (string, error) {
	config, err := w.store.Configs.FindByID(ctx, models.SystemConfigBaseURL)
	if err == nil && config.Value != "" {
		return config.Value, nil
	}

	if err != nil && !persistence.IsConfigNotFound(err) {
		return "", err
	}

	return w.config.BaseURL, nil
}

func (w *Webhooks) webhookTool(ctx context.Context, toolID string) (*models.SystemTool, error) {
	tool, err := w.store.Tools.FindByID(ctx, toolID)
	if err != nil {
		return nil, err
	}

	if tool.Type != models.ToolTypeWebhook || tool.Webhook == nil {
		return nil, persistence.NewEntityError("FindByID", "webhook tool", toolID, persistence.ErrToolNotFound)
	}

	return tool, nil
}

func (w *Webhooks) allow(toolID string) bool {
	if w.config.RatePerSecond <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	limiter, ok := w.limiters[toolID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(w.config.RatePerSecond), w.config.Burst)
		w.limiters[toolID] = limiter
	}

	return limiter.Allow()
}

// Trigger authenticates an inbound call and starts every automation whose
// trigger node references the tool. It returns the started execution ids.
// Automations that are already running are skipped.
func (w *Webhooks) Trigger(ctx context.Context, toolID, authorization string, payload map[string]any) ([]string, error) {
	tool, err := w.webhookTool(ctx, toolID)
	if err != nil {
		return nil, err
	}

	token, ok := BearerToken(authorization)
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(tool.Webhook.Token)) != 1 {
		w.logger.WarnContext(ctx, "Rejected webhook call", "tool_id", toolID)

		return nil, ErrUnauthorized
	}

	if !w.allow(tool.ID) {
		return nil, ErrRateLimited
	}

	if payload == nil {
		payload = map[string]any{}
	}

	if err := validateInput(tool.InputSchema, payload); err != nil {
		return nil, err
	}

	automations, err := w.store.Automations.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}

	started := make([]string, 0)

	for _, automation := range automations {
		for _, node := range automation.TriggerNodes() {
			if node.ReferenceID != tool.ID {
				continue
			}

			executionID, err := w.starter.StartExecution(ctx, automation.ID, payload, WithTriggerNode(node.ID))
			if err != nil {
				w.logger.WarnContext(ctx, "Webhook could not start automation",
					"tool_id", toolID,
					"automation_id", automation.ID,
					"node_id", node.ID,
					"error", err,
				)

				continue
			}

			started = append(started, executionID)

			break
		}
	}

	w.logger.InfoContext(ctx, "Webhook accepted", "tool_id", toolID, "started", len(started))

	return started, nil
}
