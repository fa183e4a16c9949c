package orders

import "time"

// Order is the minimal order projection notifications work with.
type Order struct {
	ID          int64     `json:"id"`
	BillingName string    `json:"billing_name"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Common order status values on the commerce side.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusOnHold     = "on-hold"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
