package models

import (
	"time"
)

// Notification types
const (
	NotificationNewRequest     = "new_request"
	NotificationNewBid         = "new_bid"
	NotificationBidAccepted    = "bid_accepted"
	NotificationBidRejected    = "bid_rejected"
	NotificationBidWithdrawn   = "bid_withdrawn"
	NotificationRequestExpired = "request_expired"
	NotificationRequestClosed  = "request_cancelled"
	NotificationTripStatus     = "trip_status_changed"
	NotificationTripStarted    = "trip_started"
	NotificationTripCompleted  = "trip_completed"
	NotificationTripCancelled  = "trip_cancelled"
	NotificationCreditsAdded   = "credits_added"
	NotificationTopUpRejected  = "topup_rejected"
)

type Notification struct {
	ID         string     `db:"id" json:"id"`
	Seq        int64      `db:"seq" json:"seq"`
	UserID     string     `db:"user_id" json:"user_id"`
	Type       string     `db:"type" json:"type"`
	Title      string     `db:"title" json:"title"`
	Message    string     `db:"message" json:"message"`
	RelatedIDs JSONMap    `db:"related_ids" json:"related_ids,omitempty"`
	ReadAt     *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}
