package provider

import (
	"github.com/notifyhub/dispatch/internal/domain"
)

// Registry holds the fixed channel→provider mapping:
// EMAIL→email, SMS→sms, WHATSAPP→whatsapp, PUSH→push.
type Registry struct {
	providers map[domain.Channel]domain.Provider
}

func NewRegistry(email, sms, whatsapp, push domain.Provider) *Registry {
	return &Registry{
		providers: map[domain.Channel]domain.Provider{
			domain.ChannelEmail:    email,
			domain.ChannelSMS:      sms,
			domain.ChannelWhatsApp: whatsapp,
			domain.ChannelPush:     push,
		},
	}
}

// For returns the provider bound to the channel, or nil for an unknown channel.
func (r *Registry) For(c domain.Channel) domain.Provider {
	return r.providers[c]
}

// Ready reports whether the channel has a configured provider.
func (r *Registry) Ready(c domain.Channel) bool {
	p := r.providers[c]
	return p != nil && p.Ready()
}
