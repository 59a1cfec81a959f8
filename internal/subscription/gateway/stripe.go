package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/lumora/internal/config"
	"github.com/smallbiznis/lumora/internal/subscription/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

// StripeGateway drives plan changes through the Stripe API. It only
// writes; resulting state comes back through webhooks.
type StripeGateway struct {
	api *client.API
	log *zap.Logger
}

func NewStripeGateway(cfg config.Config, log *zap.Logger) domain.Gateway {
	return &StripeGateway{
		api: client.New(cfg.Stripe.SecretKey, nil),
		log: log.Named("subscription.gateway"),
	}
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionRef string) (*domain.Snapshot, error) {
	sub, err := g.api.Subscriptions.Get(subscriptionRef, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, domain.ErrSubscriptionNotFound
	}

	item := sub.Items.Data[0]
	snapshot := &domain.Snapshot{
		SubscriptionRef: sub.ID,
		ItemRef:         item.ID,
		Status:          string(sub.Status),
	}
	if item.Price != nil {
		snapshot.PriceRef = item.Price.ID
	}
	if sub.Schedule != nil {
		snapshot.ScheduleRef = sub.Schedule.ID
	}
	if item.CurrentPeriodEnd > 0 {
		snapshot.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	if sub.BillingCycleAnchor > 0 {
		snapshot.AnchorAt = time.Unix(sub.BillingCycleAnchor, 0).UTC()
	}
	return snapshot, nil
}

func (g *StripeGateway) UpdateSubscriptionPrice(ctx context.Context, snapshot *domain.Snapshot, newPriceRef string) error {
	_, err := g.api.Subscriptions.Update(snapshot.SubscriptionRef, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(snapshot.ItemRef),
				Price: stripe.String(newPriceRef),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	g.log.Info("subscription price updated",
		zap.String("subscription_ref", snapshot.SubscriptionRef),
		zap.String("price_ref", newPriceRef),
	)
	return nil
}

// CreateDowngradeSchedule pins the current price until the boundary and
// starts the new price after it. EndBehavior release hands the
// subscription back once the second phase begins.
func (g *StripeGateway) CreateDowngradeSchedule(ctx context.Context, snapshot *domain.Snapshot, newPriceRef string, boundary time.Time) (string, error) {
	schedule, err := g.api.SubscriptionSchedules.New(&stripe.SubscriptionScheduleParams{
		Params:           stripe.Params{Context: ctx},
		FromSubscription: stripe.String(snapshot.SubscriptionRef),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	var phaseStart int64
	if len(schedule.Phases) > 0 {
		phaseStart = schedule.Phases[0].StartDate
	}

	params := downgradeScheduleParams(snapshot.PriceRef, newPriceRef, phaseStart, boundary.Unix())
	params.Params = stripe.Params{Context: ctx}
	_, err = g.api.SubscriptionSchedules.Update(schedule.ID, params)
	if err != nil {
		// Leave nothing dangling if the phase update is rejected.
		if _, releaseErr := g.api.SubscriptionSchedules.Release(schedule.ID, &stripe.SubscriptionScheduleReleaseParams{
			Params: stripe.Params{Context: ctx},
		}); releaseErr != nil {
			g.log.Error("orphaned subscription schedule",
				zap.String("schedule_ref", schedule.ID),
				zap.Error(releaseErr),
			)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	g.log.Info("downgrade scheduled",
		zap.String("subscription_ref", snapshot.SubscriptionRef),
		zap.String("schedule_ref", schedule.ID),
		zap.Time("boundary", boundary),
	)
	return schedule.ID, nil
}

// downgradeScheduleParams builds the two-phase update: the current price
// runs untouched and unprorated until the boundary, then the new price
// takes over.
func downgradeScheduleParams(currentPriceRef, newPriceRef string, phaseStart, boundary int64) *stripe.SubscriptionScheduleParams {
	return &stripe.SubscriptionScheduleParams{
		EndBehavior:       stripe.String("release"),
		ProrationBehavior: stripe.String("none"),
		Phases: []*stripe.SubscriptionSchedulePhaseParams{
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{Price: stripe.String(currentPriceRef)},
				},
				StartDate: stripe.Int64(phaseStart),
				EndDate:   stripe.Int64(boundary),
			},
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{Price: stripe.String(newPriceRef)},
				},
				StartDate: stripe.Int64(boundary),
			},
		},
	}
}

func (g *StripeGateway) ReleaseSchedule(ctx context.Context, scheduleRef string) error {
	_, err := g.api.SubscriptionSchedules.Release(scheduleRef, &stripe.SubscriptionScheduleReleaseParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	return nil
}
