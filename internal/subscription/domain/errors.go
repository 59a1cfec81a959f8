package domain

import "errors"

var (
	ErrNoActiveSubscription  = errors.New("no_active_subscription")
	ErrSamePlan              = errors.New("same_plan")
	ErrUnknownPlan           = errors.New("unknown_plan")
	ErrSubscriptionModified  = errors.New("subscription_modified")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrChangeNotAllowed      = errors.New("change_not_allowed")
	ErrProviderUnavailable   = errors.New("provider_unavailable")
	ErrMissingPeriodBoundary = errors.New("missing_period_boundary")
)
