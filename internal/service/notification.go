package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/store"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
	"github.com/michel-DC/Teamify-sub004/pkg/metrics"
	"github.com/michel-DC/Teamify-sub004/pkg/tracing"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationService lists and acknowledges durable notifications.
type NotificationService struct {
	store  store.NotificationStore
	unread *UnreadService
	logger *logger.Logger
}

// NewNotificationService creates a new notification service.
func NewNotificationService(s store.NotificationStore, unread *UnreadService, log *logger.Logger) *NotificationService {
	return &NotificationService{store: s, unread: unread, logger: log.Named("notifications")}
}

// List returns the newest notifications of userID with the unread counter.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) (*model.ListNotificationsResponse, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	list, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, apperrors.Persistence("list notifications", err)
	}
	if list == nil {
		list = []model.Notification{}
	}
	count, err := s.unread.Count(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.ListNotificationsResponse{Notifications: list, Unread: count}, nil
}

// MarkRead marks ids read, or every notification when ids is empty.
func (s *NotificationService) MarkRead(ctx context.Context, userID string, ids []string) (int, error) {
	cleared, err := s.store.MarkNotificationsRead(ctx, userID, ids)
	if err != nil {
		return 0, apperrors.Persistence("mark notifications read", err)
	}
	s.unread.Invalidate(ctx, userID)
	return cleared, nil
}

// Dispatcher emits event reminders. It keeps no state between runs: the
// store's uniqueness on (event, recipient, milestone) makes overlapping or
// repeated runs safe across instances.
type Dispatcher struct {
	events        store.EventStore
	notifications store.NotificationStore
	unread        *UnreadService
	bus           Broadcaster
	milestones    []model.Milestone
	horizon       time.Duration
	now           func() time.Time
	logger        *logger.Logger
}

// NewDispatcher creates a dispatcher for milestones.
func NewDispatcher(events store.EventStore, notifications store.NotificationStore, unread *UnreadService, bus Broadcaster, milestones []model.Milestone, log *logger.Logger) *Dispatcher {
	ms := append([]model.Milestone(nil), milestones...)
	// Tightest first, so the first crossed milestone is the one to emit.
	sort.Slice(ms, func(i, j int) bool { return ms[i].Before < ms[j].Before })

	var horizon time.Duration
	for _, m := range ms {
		if m.Before > horizon {
			horizon = m.Before
		}
	}
	return &Dispatcher{
		events:        events,
		notifications: notifications,
		unread:        unread,
		bus:           orNop(bus),
		milestones:    ms,
		horizon:       horizon,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        log.Named("dispatcher"),
	}
}

// SetClock replaces the dispatcher's clock.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// ProcessEventNotifications runs one pass over upcoming events. Per-recipient
// failures are counted and never abort the batch; only failing to list the
// events fails the run.
func (d *Dispatcher) ProcessEventNotifications(ctx context.Context) (model.DispatchResult, error) {
	ctx, span := tracing.Tracer("service").Start(ctx, "notifications.dispatch")
	defer span.End()

	start := time.Now()
	now := d.now()
	var result model.DispatchResult

	events, err := d.events.UpcomingEvents(ctx, now, now.Add(d.horizon))
	if err != nil {
		span.RecordError(err)
		return result, apperrors.Persistence("list upcoming events", err)
	}

	for _, event := range events {
		milestone, ok := d.crossed(event, now, &result)
		if !ok {
			continue
		}
		for _, recipient := range uniqueRecipients(event.Members) {
			d.dispatchOne(ctx, event, milestone, recipient, now, &result)
		}
	}

	span.SetAttributes(
		attribute.Int("events", len(events)),
		attribute.Int("evaluated", result.Evaluated),
		attribute.Int("created", result.Created),
		attribute.Int("skipped", result.Skipped),
		attribute.Int("errors", result.Errors),
	)
	metrics.RecordDispatch(result.Created, result.Skipped, result.Errors, time.Since(start).Seconds())
	d.logger.Info("dispatch run completed",
		zap.Int("events", len(events)),
		zap.Int("evaluated", result.Evaluated),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors))
	return result, nil
}

// crossed returns the tightest milestone now has crossed for event. Every
// milestone examined counts as evaluated.
func (d *Dispatcher) crossed(event model.Event, now time.Time, result *model.DispatchResult) (model.Milestone, bool) {
	for _, m := range d.milestones {
		result.Evaluated++
		if m.Crossed(event.StartsAt, now) {
			return m, true
		}
	}
	return model.Milestone{}, false
}

func (d *Dispatcher) dispatchOne(ctx context.Context, event model.Event, milestone model.Milestone, recipient string, now time.Time, result *model.DispatchResult) {
	n := &model.Notification{
		UserID:    recipient,
		Type:      model.NotificationEventReminder,
		EventID:   event.ID,
		Milestone: milestone.Name,
		Title:     fmt.Sprintf("Upcoming: %s", event.Title),
		Body:      fmt.Sprintf("%s starts at %s", event.Title, event.StartsAt.UTC().Format(time.RFC3339)),
		CreatedAt: now,
	}
	rec := model.NotificationJobRecord{
		EventID:     event.ID,
		RecipientID: recipient,
		Milestone:   milestone.Name,
		CreatedAt:   now,
	}

	created, err := d.notifications.RecordReminder(ctx, rec, n)
	if err != nil {
		result.Errors++
		d.logger.Error("reminder dispatch failed",
			zap.String("event_id", event.ID),
			zap.String("user_id", recipient),
			zap.String("milestone", milestone.Name),
			zap.Error(err))
		return
	}
	if !created {
		result.Skipped++
		return
	}
	result.Created++

	if d.unread != nil {
		d.unread.Invalidate(ctx, recipient)
	}
	payload, err := model.EncodeFrame(model.FrameNotificationNew, n)
	if err == nil {
		err = d.bus.PublishUser(ctx, recipient, payload)
	}
	if err != nil {
		d.logger.Warn("live notification push failed", zap.String("user_id", recipient), zap.Error(err))
	}
}

func uniqueRecipients(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
