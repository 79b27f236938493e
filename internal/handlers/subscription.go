package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/httpauth"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/storage"
)

// CallbackVerifier checks a callback before a subscription is stored and
// drops delivery state of deleted subscriptions. It is implemented by
// *events.WebhookNotifier.
type CallbackVerifier interface {
	TestCallback(ctx context.Context, sub *models.LccnSubscription) error
	Forget(subscriptionID string)
}

// SubscriptionHandler handles the subscription resources.
type SubscriptionHandler struct {
	store    storage.SubscriptionStore
	verifier CallbackVerifier
	endpoint string
	logger   *zap.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler. A nil verifier
// stores subscriptions without testing their callback.
func NewSubscriptionHandler(store storage.SubscriptionStore, verifier CallbackVerifier, endpoint string, logger *zap.Logger) *SubscriptionHandler {
	if store == nil {
		panic("storage cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	return &SubscriptionHandler{
		store:    store,
		verifier: verifier,
		endpoint: endpoint,
		logger:   logger,
	}
}

func (h *SubscriptionHandler) view(sub *models.LccnSubscription) *models.LccnSubscription {
	out := sub.Redacted()
	out.Links = &models.SubscriptionLinks{Self: models.Link{Href: models.SubscriptionHref(h.endpoint, sub.ID)}}
	return out
}

// CreateSubscription handles POST /vnflcm/v2/subscriptions.
//
// Response:
//   - 201 Created: LccnSubscription, Location of the new subscription
//   - 400 Bad Request: invalid callback, filter or authentication
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.LccnSubscriptionRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	sub, err := h.newSubscription(&req)
	if err != nil {
		h.logger.Warn("invalid subscription request", zap.Error(err))
		WriteProblem(c, http.StatusBadRequest, err.Error())
		return
	}

	if h.verifier != nil {
		if err := h.verifier.TestCallback(ctx, sub); err != nil {
			h.logger.Warn("callback check failed",
				zap.String("callback", sub.CallbackURI),
				zap.Error(err),
			)
			WriteProblem(c, http.StatusBadRequest, fmt.Sprintf("%s: callback check failed: %v", sub.CallbackURI, err))
			return
		}
	}

	if err := h.store.CreateSubscription(ctx, sub); err != nil {
		writeError(c, h.logger, "Failed to create subscription", err)
		return
	}

	h.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("callback", sub.CallbackURI),
	)

	c.Header("Location", models.SubscriptionHref(h.endpoint, sub.ID))
	c.JSON(http.StatusCreated, h.view(sub))
}

// newSubscription validates a request and builds the subscription.
func (h *SubscriptionHandler) newSubscription(req *models.LccnSubscriptionRequest) (*models.LccnSubscription, error) {
	u, err := url.Parse(req.CallbackURI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: must be an absolute HTTP or HTTPS URL", storage.ErrInvalidCallback)
	}

	verbosity := req.Verbosity
	switch verbosity {
	case "":
		verbosity = models.VerbosityFull
	case models.VerbosityFull, models.VerbosityShort:
	default:
		return nil, fmt.Errorf("verbosity must be FULL or SHORT")
	}

	if req.Authentication != nil {
		if err := httpauth.Validate(req.Authentication); err != nil {
			return nil, err
		}
	}

	if f := req.Filter; f != nil {
		for _, op := range f.OperationTypes {
			if !op.IsValid() {
				return nil, fmt.Errorf("unknown operation type %q", op)
			}
		}
		for _, state := range f.OperationStates {
			if !state.IsValid() {
				return nil, fmt.Errorf("unknown operation state %q", state)
			}
		}
	}

	return &models.LccnSubscription{
		ID:             uuid.New().String(),
		Filter:         req.Filter,
		CallbackURI:    req.CallbackURI,
		Authentication: req.Authentication,
		Verbosity:      verbosity,
	}, nil
}

// ListSubscriptions handles GET /vnflcm/v2/subscriptions.
//
// Query Parameters:
//   - filter: attribute filter, e.g. (eq,callbackUri,http://...)
func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	filter, err := models.ParseAttributeFilter(c.Query("filter"))
	if err != nil {
		WriteProblem(c, http.StatusBadRequest, err.Error())
		return
	}

	subs, err := h.store.ListSubscriptions(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "Failed to retrieve subscriptions", err)
		return
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })

	items := make([]*models.LccnSubscription, 0, len(subs))
	for _, sub := range subs {
		view := h.view(sub)
		match, err := filter.Match(view)
		if err != nil {
			writeError(c, h.logger, "Failed to filter subscriptions", err)
			return
		}
		if match {
			items = append(items, view)
		}
	}

	h.logger.Debug("subscriptions retrieved", zap.Int("count", len(items)))
	c.JSON(http.StatusOK, items)
}

// GetSubscription handles GET /vnflcm/v2/subscriptions/{id}.
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	sub, err := h.store.GetSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to retrieve subscription", err)
		return
	}
	c.JSON(http.StatusOK, h.view(sub))
}

// DeleteSubscription handles DELETE /vnflcm/v2/subscriptions/{id}.
func (h *SubscriptionHandler) DeleteSubscription(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteSubscription(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, "Failed to delete subscription", err)
		return
	}
	if h.verifier != nil {
		h.verifier.Forget(id)
	}

	h.logger.Info("subscription deleted", zap.String("subscription_id", id))
	c.Status(http.StatusNoContent)
}
