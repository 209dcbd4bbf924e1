package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/cache"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// Summaries returns the conversation-list projection for a set of
// correlation ids: the newest client-facing message plus the unread count
// for each. Ids with no messages are still present in the result with a
// nil last message and a zero count.
func (e *Engine) Summaries(ctx context.Context, correlationIDs []int64) ([]model.ConversationSummary, error) {
	if len(correlationIDs) == 0 {
		return []model.ConversationSummary{}, nil
	}

	cacheKey := summaryCacheKey(correlationIDs)
	if cached := e.cachedSummaries(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	latest, err := e.messages.LatestMessagePerCorrelationID(ctx, correlationIDs)
	if err != nil {
		return nil, err
	}
	unread, err := e.messages.UnreadCountPerCorrelationID(ctx, correlationIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ConversationSummary, 0, len(correlationIDs))
	for _, id := range correlationIDs {
		summaries = append(summaries, model.ConversationSummary{
			CorrelationID: id,
			LastMessage:   latest[id],
			UnreadCount:   unread[id],
		})
	}

	e.storeSummaries(ctx, cacheKey, summaries)
	return summaries, nil
}

// PostInternalNote writes a manager note into the internal store. Content
// may be empty only when attachment metadata is present.
func (e *Engine) PostInternalNote(ctx context.Context, note *model.InternalMessage) (*model.InternalMessage, error) {
	note.Content = strings.TrimSpace(note.Content)
	if note.Content == "" && note.AttachmentURL == "" {
		return nil, fmt.Errorf("%w: internal note carries neither content nor attachment", apperrors.ErrValidation)
	}
	if note.OrderID == 0 {
		return nil, fmt.Errorf("%w: internal note requires an order id", apperrors.ErrValidation)
	}

	if note.CorrelationID == 0 {
		order, err := e.orders.FindOrderByID(ctx, note.OrderID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, fmt.Errorf("%w: order %d", apperrors.ErrNotFound, note.OrderID)
		}
		note.CorrelationID = order.CorrelationID
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = utils.Now()
	}

	if err := e.internals.InsertInternalMessage(ctx, note); err != nil {
		return nil, err
	}

	e.invalidate(ctx)
	return note, nil
}

// MarkRead flags the order's internal messages as read for everyone but the
// reader, the store-level approximation of per-recipient read state.
func (e *Engine) MarkRead(ctx context.Context, orderID, readerID int64) error {
	if err := e.internals.MarkInternalMessagesRead(ctx, orderID, readerID); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

func (e *Engine) invalidate(ctx context.Context) {
	if e.queryCache == nil {
		return
	}
	for _, namespace := range []string{cache.NamespaceTimeline, cache.NamespaceSummary} {
		prefix := cache.NamespacePrefix(namespace)
		if err := e.queryCache.Invalidate(ctx, prefix); err != nil {
			logger.FromContext(ctx).Warn("Failed to invalidate query cache",
				zap.String("prefix", prefix), zap.Error(err))
		}
	}
}

func summaryCacheKey(correlationIDs []int64) string {
	sorted := append([]int64(nil), correlationIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return cache.QueryKey(cache.NamespaceSummary, parts...)
}

func (e *Engine) cachedSummaries(ctx context.Context, key string) []model.ConversationSummary {
	if e.queryCache == nil {
		return nil
	}
	raw, ok, err := e.queryCache.Get(ctx, key)
	if err != nil || !ok {
		return nil
	}
	var summaries []model.ConversationSummary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		return nil
	}
	return summaries
}

func (e *Engine) storeSummaries(ctx context.Context, key string, summaries []model.ConversationSummary) {
	if e.queryCache == nil {
		return
	}
	raw, err := json.Marshal(summaries)
	if err != nil {
		return
	}
	if err := e.queryCache.Set(ctx, key, raw, e.cacheTTL); err != nil {
		logger.FromContext(ctx).Warn("Failed to cache conversation summaries", zap.Error(err))
	}
}
