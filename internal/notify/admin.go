package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erimias46/babrber-frontend-sub000/internal/events"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// AdminNotifier emails the operations team about money that needs a human.
type AdminNotifier struct {
	email      EmailSender
	recipients []string
	consoleURL string
	logger     *logging.Logger
}

func NewAdminNotifier(email EmailSender, recipients []string, consoleURL string, logger *logging.Logger) *AdminNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminNotifier{
		email:      email,
		recipients: recipients,
		consoleURL: strings.TrimRight(consoleURL, "/"),
		logger:     logger.Component("notify.admin"),
	}
}

// HandleRefundReview implements events.DeliveryHandler for refund_review_requested.v1.
func (n *AdminNotifier) HandleRefundReview(ctx context.Context, entry events.OutboxEntry) error {
	evt, err := events.Decode[events.RefundReviewRequestedV1](entry)
	if err != nil {
		return err
	}
	return n.NotifyRefundReview(ctx, evt)
}

func (n *AdminNotifier) NotifyRefundReview(ctx context.Context, evt events.RefundReviewRequestedV1) error {
	subject := fmt.Sprintf("Refund review needed: booking %s (%s)", evt.BookingID, formatCents(evt.AmountCents))
	var b strings.Builder
	fmt.Fprintf(&b, "A refund of %s is waiting for a decision.\n\n", formatCents(evt.AmountCents))
	fmt.Fprintf(&b, "Booking: %s\nCustomer: %s\nProvider: %s\nTrigger: %s\n", evt.BookingID, evt.CustomerID, evt.ProviderID, evt.Trigger)
	if evt.PaymentRef != "" {
		fmt.Fprintf(&b, "Payment: %s\n", evt.PaymentRef)
	}
	fmt.Fprintf(&b, "Flagged at: %s\n", evt.OccurredAt.UTC().Format("January 2, 2006 at 15:04 UTC"))
	if n.consoleURL != "" {
		fmt.Fprintf(&b, "\nResolve: %s/admin/requests/%s\n", n.consoleURL, evt.BookingID)
	}
	return n.broadcast(ctx, subject, b.String())
}

// PayoutBlocked implements payments.BlockedNotifier.
func (n *AdminNotifier) PayoutBlocked(ctx context.Context, bookingID, providerID, hint string) error {
	subject := fmt.Sprintf("Payout blocked: booking %s", bookingID)
	body := fmt.Sprintf("The payout for booking %s could not be released to provider %s.\n\n%s\n", bookingID, providerID, hint)
	return n.broadcast(ctx, subject, body)
}

func (n *AdminNotifier) broadcast(ctx context.Context, subject, body string) error {
	if n.email == nil || len(n.recipients) == 0 {
		n.logger.Debug("admin notifications not configured, skipping", "subject", subject)
		return nil
	}
	var errs []error
	for _, to := range n.recipients {
		if err := n.email.Send(ctx, EmailMessage{To: to, Subject: subject, Body: body}); err != nil {
			n.logger.Error("admin email failed", "to", to, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
