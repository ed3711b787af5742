package tickets

import (
	"context"
	"fmt"
	"time"
)

// CancelEventTickets cancels every active credential of a cancelled event.
// Tickets that were already used stay used.
func (s *TicketService) CancelEventTickets(ctx context.Context, eventID string) (int64, error) {
	n, err := s.Store.CancelActiveByEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	s.announceCancelled(ctx, "event", eventID, n)
	return n, nil
}

// CancelPurchaseTickets cancels the active credentials of a refunded purchase.
func (s *TicketService) CancelPurchaseTickets(ctx context.Context, purchaseID string) (int64, error) {
	n, err := s.Store.CancelActiveByPurchase(ctx, purchaseID)
	if err != nil {
		return 0, err
	}
	s.announceCancelled(ctx, "purchase", purchaseID, n)
	return n, nil
}

func (s *TicketService) announceCancelled(ctx context.Context, scope, id string, n int64) {
	s.Logger.Info("CANCEL", fmt.Sprintf("%s %s: %d tickets cancelled", scope, id, n))
	if n == 0 || s.Publisher == nil {
		return
	}
	if err := s.Publisher.PublishTicketsCancelled(ctx, scope, id, n); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish cancellation for %s %s: %v", scope, id, err))
	}
}

// ExpireStaleTickets persists the expiry of active credentials whose event
// started more than the grace period ago.
func (s *TicketService) ExpireStaleTickets(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.Options.ExpiryGrace)
	n, err := s.Store.ExpireActiveStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Logger.Info("EXPIRY", fmt.Sprintf("expired %d tickets of events started before %s", n, cutoff.Format(time.RFC3339)))
	}
	return n, nil
}

const defaultSweepInterval = 15 * time.Minute

// RunExpirySweeper calls ExpireStaleTickets every interval until ctx is done.
// A non-positive interval falls back to 15 minutes.
func (s *TicketService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.Logger.Warn("EXPIRY", fmt.Sprintf("invalid sweep interval %s, using %s", interval, defaultSweepInterval))
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStaleTickets(ctx); err != nil {
				s.Logger.Error("EXPIRY", fmt.Sprintf("sweep failed: %v", err))
			}
		}
	}
}
