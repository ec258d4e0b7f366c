package models

import "time"

// PaymentWebhookEvent stores raw provider deliveries with deduplication metadata so a
// redelivered event is processed once.
type PaymentWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_payment_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_payment_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index:idx_payment_webhook_events_type" json:"event_type"`
	SessionID       string     `gorm:"type:varchar(191);not null;default:'';index:idx_payment_webhook_events_session" json:"session_id"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index:idx_payment_webhook_events_created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for PaymentWebhookEvent
func (PaymentWebhookEvent) TableName() string {
	return "payment_webhook_events"
}

// IsProcessed reports whether a previous delivery already completed processing.
func (e *PaymentWebhookEvent) IsProcessed() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
