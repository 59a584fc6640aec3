// Package notificationtest records notifications instead of delivering them.
package notificationtest

import (
	"context"
	"sync"

	"vpn-billing/internal/models"
	"vpn-billing/internal/notification"
)

type Sent struct {
	UserID uint
	Msg    notification.Message
}

type Recorder struct {
	mu     sync.Mutex
	Sent   []Sent
	Admins []string
}

func (r *Recorder) Send(_ context.Context, user *models.User, msg notification.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, Sent{UserID: user.ID, Msg: msg})
	return true
}

func (r *Recorder) NotifyAdmins(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Admins = append(r.Admins, text)
}

// Types lists the sent notification types in order.
func (r *Recorder) Types() []notification.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]notification.Type, 0, len(r.Sent))
	for _, s := range r.Sent {
		types = append(types, s.Msg.Type)
	}
	return types
}
