// Package timeline merges the client-facing and internal message stores
// into one descending-time feed with cursor pagination.
package timeline

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/cache"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/internal/storage"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
)

const defaultPageLimit = 50

// Ref addresses a conversation by order id or by external correlation id.
// CorrelationID wins when both are set.
type Ref struct {
	OrderID       int64
	CorrelationID int64
}

// Engine is the timeline merge engine.
type Engine struct {
	orders     storage.OrderRepo
	messages   storage.MessageRepo
	internals  storage.InternalMessageRepo
	queryCache cache.Cache
	cacheTTL   time.Duration
}

// NewEngine wires the timeline merge engine. queryCache may be nil.
func NewEngine(orders storage.OrderRepo, messages storage.MessageRepo, internals storage.InternalMessageRepo, queryCache cache.Cache, cacheTTL time.Duration) *Engine {
	return &Engine{
		orders:     orders,
		messages:   messages,
		internals:  internals,
		queryCache: queryCache,
		cacheTTL:   cacheTTL,
	}
}

// GetTimeline returns one page of the merged feed for the referenced
// conversation. A reference matching no order yields an empty page, not an
// error. Messages from every one of the owning contact's orders are
// interleaved so parallel deals read as one conversation.
func (e *Engine) GetTimeline(ctx context.Context, ref Ref, limit int, before *time.Time) (*model.TimelinePage, error) {
	log := logger.FromContext(ctx)
	if limit <= 0 {
		limit = defaultPageLimit
	}

	order, err := e.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return &model.TimelinePage{Items: []model.TimelineItem{}}, nil
	}

	orderIDs, correlationIDs, err := e.expandScope(ctx, order)
	if err != nil {
		return nil, err
	}

	cacheKey := pageCacheKey(correlationIDs, limit, before)
	if cached := e.cachedPage(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	mergeStart := time.Now()

	var clientRows []model.Message
	var internalRows []model.InternalMessage
	fetch := pool.New().WithContext(ctx).WithCancelOnError()
	fetch.Go(func(ctx context.Context) error {
		var fetchErr error
		clientRows, fetchErr = e.messages.FindMessagePage(ctx, correlationIDs, limit, before)
		return fetchErr
	})
	fetch.Go(func(ctx context.Context) error {
		var fetchErr error
		internalRows, fetchErr = e.internals.FindInternalMessagePage(ctx, orderIDs, correlationIDs, limit, before)
		return fetchErr
	})
	if err := fetch.Wait(); err != nil {
		return nil, err
	}

	page := mergePage(clientRows, internalRows, limit)
	observer.ObserveTimelineMergeDuration(time.Since(mergeStart))

	e.storePage(ctx, cacheKey, page)
	log.Debug("Merged timeline page",
		zap.Int64("correlation_id", order.CorrelationID),
		zap.Int("items", len(page.Items)),
		zap.Bool("has_more", page.HasMore))
	return page, nil
}

func (e *Engine) resolveOrder(ctx context.Context, ref Ref) (*model.Order, error) {
	if ref.CorrelationID != 0 {
		return e.orders.FindOrderByCorrelationID(ctx, ref.CorrelationID)
	}
	if ref.OrderID != 0 {
		return e.orders.FindOrderByID(ctx, ref.OrderID)
	}
	return nil, nil
}

// expandScope collects every order id and correlation id belonging to the
// order's contact, so a customer's parallel orders surface as one feed.
func (e *Engine) expandScope(ctx context.Context, order *model.Order) ([]int64, []int64, error) {
	siblings, err := e.orders.FindOrdersByContact(ctx, order.ContactID)
	if err != nil {
		return nil, nil, err
	}

	orderIDs := []int64{order.ID}
	correlationIDs := []int64{}
	if order.CorrelationID != 0 {
		correlationIDs = append(correlationIDs, order.CorrelationID)
	}
	for i := range siblings {
		sibling := &siblings[i]
		if sibling.ID != order.ID {
			orderIDs = append(orderIDs, sibling.ID)
		}
		if sibling.CorrelationID != 0 && sibling.CorrelationID != order.CorrelationID {
			correlationIDs = append(correlationIDs, sibling.CorrelationID)
		}
	}
	return orderIDs, correlationIDs, nil
}

// mergePage normalizes both result sets, sorts them newest-first, and
// truncates to limit. Timestamp ties put the client source first, then the
// higher row id. hasMore over-approximates: either source hitting the limit
// counts, even when both are simultaneously exhausted.
func mergePage(clientRows []model.Message, internalRows []model.InternalMessage, limit int) *model.TimelinePage {
	items := make([]model.TimelineItem, 0, len(clientRows)+len(internalRows))
	for i := range clientRows {
		items = append(items, clientItem(&clientRows[i]))
	}
	for i := range internalRows {
		items = append(items, internalItem(&internalRows[i]))
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].SortDate.Equal(items[j].SortDate) {
			return items[i].SortDate.After(items[j].SortDate)
		}
		if items[i].Source != items[j].Source {
			return items[i].Source == model.TimelineSourceClient
		}
		return items[i].ID > items[j].ID
	})

	hasMore := len(clientRows) == limit || len(internalRows) == limit
	if len(items) > limit {
		items = items[:limit]
	}

	page := &model.TimelinePage{Items: items, HasMore: hasMore}
	if len(items) > 0 {
		oldest := items[len(items)-1].SortDate
		page.NextCursor = &oldest
	}
	return page
}

func clientItem(message *model.Message) model.TimelineItem {
	return model.TimelineItem{
		Source:         model.TimelineSourceClient,
		ID:             message.ID,
		Content:        message.Content,
		AuthorKind:     message.AuthorKind,
		Kind:           message.Kind,
		FileURL:        message.FileURL,
		DeliveryStatus: message.DeliveryStatus,
		SortDate:       message.CreatedAt.UTC(),
	}
}

func internalItem(internal *model.InternalMessage) model.TimelineItem {
	return model.TimelineItem{
		Source:        model.TimelineSourceInternal,
		ID:            internal.ID,
		Content:       internal.Content,
		SenderID:      internal.SenderID,
		FileURL:       internal.AttachmentURL,
		IsSystemEntry: internal.IsSystemEntry(),
		SortDate:      internal.CreatedAt.UTC(),
	}
}

func pageCacheKey(correlationIDs []int64, limit int, before *time.Time) string {
	parts := make([]string, 0, len(correlationIDs)+2)
	sorted := append([]int64(nil), correlationIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	parts = append(parts, strconv.Itoa(limit))
	if before != nil {
		parts = append(parts, strconv.FormatInt(before.UnixNano(), 10))
	}
	return cache.QueryKey(cache.NamespaceTimeline, parts...)
}

func (e *Engine) cachedPage(ctx context.Context, key string) *model.TimelinePage {
	if e.queryCache == nil {
		return nil
	}
	raw, ok, err := e.queryCache.Get(ctx, key)
	if err != nil || !ok {
		return nil
	}
	var page model.TimelinePage
	if err := json.Unmarshal(raw, &page); err != nil {
		logger.FromContext(ctx).Warn("Failed to decode cached timeline page", zap.Error(err))
		return nil
	}
	return &page
}

func (e *Engine) storePage(ctx context.Context, key string, page *model.TimelinePage) {
	if e.queryCache == nil {
		return
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := e.queryCache.Set(ctx, key, raw, e.cacheTTL); err != nil {
		logger.FromContext(ctx).Warn("Failed to cache timeline page", zap.Error(err))
	}
}
