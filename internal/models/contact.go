package models

import "time"

// ContactStatus represents valid contact statuses
type ContactStatus string

const (
	ContactStatusActive       ContactStatus = "active"
	ContactStatusInactive     ContactStatus = "inactive"
	ContactStatusUnsubscribed ContactStatus = "unsubscribed"
)

// Contact represents the person behind a prayer request
type Contact struct {
	ID               int           `json:"id" db:"id"`
	FullName         string        `json:"full_name" db:"full_name"`
	Email            *string       `json:"email,omitempty" db:"email"`
	Phone            *string       `json:"phone,omitempty" db:"phone"`
	PreferredContact Channel       `json:"preferred_contact" db:"preferred_contact"`
	Status           ContactStatus `json:"status" db:"status"`
	TotalRequests    int           `json:"total_requests" db:"total_requests"`
	LastContactDate  *time.Time    `json:"last_contact_date,omitempty" db:"last_contact_date"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
}

// DisplayName returns the contact's name or a neutral fallback
func (c *Contact) DisplayName() string {
	if c.FullName != "" {
		return c.FullName
	}
	return "Hermano/a"
}

// Destination returns the address used to reach the contact on a channel.
// The second value is false when the contact has no usable data for it.
func (c *Contact) Destination(channel Channel) (string, bool) {
	switch channel {
	case ChannelEmail:
		if c.Email != nil && *c.Email != "" {
			return *c.Email, true
		}
	case ChannelSMS, ChannelWhatsApp:
		if c.Phone != nil && *c.Phone != "" {
			return *c.Phone, true
		}
	}
	return "", false
}

// UsableChannels returns the delivery channels the contact has data for, in
// the fixed order email, sms, whatsapp
func (c *Contact) UsableChannels() []Channel {
	channels := make([]Channel, 0, len(DeliveryChannels))
	for _, ch := range DeliveryChannels {
		if _, ok := c.Destination(ch); ok {
			channels = append(channels, ch)
		}
	}
	return channels
}

// IsReachable reports whether messages may be sent to the contact at all
func (c *Contact) IsReachable() bool {
	return c.Status != ContactStatusUnsubscribed
}
