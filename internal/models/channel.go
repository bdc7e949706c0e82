package models

import "fmt"

// Channel represents a messaging channel. ChannelAll is only valid on
// templates and action configs, never on a queued message.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelAll      Channel = "all"
)

// DeliveryChannels lists the concrete channels a message can be sent on
var DeliveryChannels = []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp}

// IsDelivery reports whether the channel is a concrete delivery channel
func (c Channel) IsDelivery() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelWhatsApp
}

// Covers reports whether a template or action declared for c can be used on target
func (c Channel) Covers(target Channel) bool {
	return c == ChannelAll || c == target
}

// ParseChannel validates a channel string
func ParseChannel(s string) (Channel, error) {
	switch ch := Channel(s); ch {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelAll:
		return ch, nil
	}
	return "", fmt.Errorf("invalid channel %q: must be one of email, sms, whatsapp, all", s)
}
