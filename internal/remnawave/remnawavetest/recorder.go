// Package remnawavetest provides an in-memory Entitlements for service tests.
package remnawavetest

import (
	"context"
	"sync"

	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/models"
	"vpn-billing/internal/remnawave"
)

// Call is one recorded mirror call.
type Call struct {
	Op             string
	UserID         uint
	SubscriptionID uint
	TrafficLimitGB int
	Status         string
}

// Recorder records every call. With Fail set every call returns a failed Result.
type Recorder struct {
	mu    sync.Mutex
	Fail  bool
	Calls []Call
}

func (r *Recorder) record(c Call) remnawave.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, c)
	if r.Fail {
		return remnawave.Result{Err: ierr.Mark(ierr.New("panel unavailable"), ierr.ErrRemoteSync)}
	}
	return remnawave.Result{OK: true}
}

func (r *Recorder) PushSubscription(_ context.Context, user *models.User, sub *models.Subscription) remnawave.Result {
	return r.record(Call{
		Op:             "push",
		UserID:         user.ID,
		SubscriptionID: sub.ID,
		TrafficLimitGB: sub.TrafficLimitGB,
		Status:         sub.Status,
	})
}

func (r *Recorder) Enable(_ context.Context, user *models.User) remnawave.Result {
	return r.record(Call{Op: "enable", UserID: user.ID})
}

func (r *Recorder) Disable(_ context.Context, user *models.User) remnawave.Result {
	return r.record(Call{Op: "disable", UserID: user.ID})
}

func (r *Recorder) ResetTraffic(_ context.Context, user *models.User) remnawave.Result {
	return r.record(Call{Op: "reset_traffic", UserID: user.ID})
}

// Ops lists the recorded operation names in order.
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		ops = append(ops, c.Op)
	}
	return ops
}
