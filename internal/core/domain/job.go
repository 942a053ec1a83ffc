package domain

import "github.com/google/uuid"

// SettlementJob is the only payload carried by the settlement queue.
type SettlementJob struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

// Delivery is a job handed to a consumer together with its queue entry id.
// Deliveries counts how often the queue has handed out this entry, this
// delivery included; a reclaimed entry carries the count of every earlier
// consumer that took it and never acked.
type Delivery struct {
	ID         string
	Job        SettlementJob
	Deliveries int
}
