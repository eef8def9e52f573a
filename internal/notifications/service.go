package notifications

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/ledger"
)

// ErrNotConnected is returned when a private message has no live recipient
var ErrNotConnected = errors.New("account not connected")

// Broadcaster delivers messages to connected clients without blocking
type Broadcaster interface {
	Broadcast(message WebSocketMessage) error
	SendToAccount(account string, message WebSocketMessage) error
}

// Service turns ledger events and maintenance findings into client notifications
type Service struct {
	hub       Broadcaster
	logger    *zap.Logger
	now       func() time.Time
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// DeliveryStats counts messages handed to the hub
type DeliveryStats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// NewService creates a new notification service
func NewService(hub Broadcaster, logger *zap.Logger) *Service {
	return &Service{hub: hub, logger: logger, now: time.Now}
}

// Publish implements ledger.Publisher. It runs under the ledger lock, so a full hub
// drops the message instead of waiting.
func (s *Service) Publish(ctx context.Context, events []ledger.Event) {
	for _, e := range events {
		msg, err := EventMessage(e)
		if err != nil {
			s.logger.Error("Failed to build event message", zap.Error(err))
			s.dropped.Add(1)
			continue
		}
		if err := s.hub.Broadcast(msg); err != nil {
			s.logger.Warn("Dropped ledger event",
				zap.String("kind", string(e.Kind())),
				zap.Uint64("seq", e.Header().Seq),
				zap.Error(err))
			s.dropped.Add(1)
			continue
		}
		s.delivered.Add(1)
	}
}

// NotifyExpired tells a donor that the given disbursements passed their deadline
// unclaimed. Reclaiming stays with the donor.
func (s *Service) NotifyExpired(ctx context.Context, donor string, expired []*ledger.Disbursement) error {
	if len(expired) == 0 {
		return nil
	}
	notice := ExpiryNotice{Donor: donor}
	total := decimal.Zero
	for _, d := range expired {
		notice.DisbursementIDs = append(notice.DisbursementIDs, d.ID)
		total = total.Add(d.Amount)
	}
	notice.Amount = total.String()

	if err := s.hub.SendToAccount(donor, notice.Message(s.now())); err != nil {
		s.dropped.Add(1)
		return err
	}
	s.delivered.Add(1)
	return nil
}

// Stats returns delivery counters
func (s *Service) Stats() DeliveryStats {
	return DeliveryStats{Delivered: s.delivered.Load(), Dropped: s.dropped.Load()}
}
