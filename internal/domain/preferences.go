package domain

import "time"

// Preferences holds one user's per-channel delivery settings.
// Rows are created lazily with these defaults on first read:
// only email enabled, priorities EMAIL=1, SMS=2, WHATSAPP=3, PUSH=4.
type Preferences struct {
	UserID           string    `json:"userId"`
	EmailEnabled     bool      `json:"emailEnabled"`
	SMSEnabled       bool      `json:"smsEnabled"`
	WhatsAppEnabled  bool      `json:"whatsappEnabled"`
	PushEnabled      bool      `json:"pushEnabled"`
	EmailPriority    Priority  `json:"emailPriority"`
	SMSPriority      Priority  `json:"smsPriority"`
	WhatsAppPriority Priority  `json:"whatsappPriority"`
	PushPriority     Priority  `json:"pushPriority"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DefaultPreferences returns the row created for a user never seen before.
func DefaultPreferences(userID string) *Preferences {
	now := time.Now().UTC()
	return &Preferences{
		UserID:           userID,
		EmailEnabled:     true,
		SMSEnabled:       false,
		WhatsAppEnabled:  false,
		PushEnabled:      false,
		EmailPriority:    PriorityLow,
		SMSPriority:      PriorityMedium,
		WhatsAppPriority: PriorityHigh,
		PushPriority:     PriorityUrgent,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Enabled reports whether the given channel is switched on.
func (p *Preferences) Enabled(c Channel) bool {
	switch c {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	case ChannelWhatsApp:
		return p.WhatsAppEnabled
	case ChannelPush:
		return p.PushEnabled
	}
	return false
}

// ChannelPriority returns the stored priority for the channel,
// falling back to LOW for unrecognised channels.
func (p *Preferences) ChannelPriority(c Channel) Priority {
	switch c {
	case ChannelEmail:
		return p.EmailPriority
	case ChannelSMS:
		return p.SMSPriority
	case ChannelWhatsApp:
		return p.WhatsAppPriority
	case ChannelPush:
		return p.PushPriority
	}
	return PriorityLow
}

// PreferredChannels returns the enabled channels in the stable order
// EMAIL, SMS, WHATSAPP, PUSH.
func (p *Preferences) PreferredChannels() []Channel {
	var channels []Channel
	for _, c := range AllChannels {
		if p.Enabled(c) {
			channels = append(channels, c)
		}
	}
	return channels
}

// PreferencesUpdate is a partial update: only non-nil fields overwrite.
type PreferencesUpdate struct {
	EmailEnabled     *bool     `json:"emailEnabled,omitempty"`
	SMSEnabled       *bool     `json:"smsEnabled,omitempty"`
	WhatsAppEnabled  *bool     `json:"whatsappEnabled,omitempty"`
	PushEnabled      *bool     `json:"pushEnabled,omitempty"`
	EmailPriority    *Priority `json:"emailPriority,omitempty"`
	SMSPriority      *Priority `json:"smsPriority,omitempty"`
	WhatsAppPriority *Priority `json:"whatsappPriority,omitempty"`
	PushPriority     *Priority `json:"pushPriority,omitempty"`
}

func (u *PreferencesUpdate) Validate() error {
	for _, p := range []*Priority{u.EmailPriority, u.SMSPriority, u.WhatsAppPriority, u.PushPriority} {
		if p != nil && !p.IsValid() {
			return ErrInvalidPriority
		}
	}
	return nil
}

// ApplyTo overwrites the supplied fields on the row (right-biased merge).
func (u *PreferencesUpdate) ApplyTo(p *Preferences) {
	if u.EmailEnabled != nil {
		p.EmailEnabled = *u.EmailEnabled
	}
	if u.SMSEnabled != nil {
		p.SMSEnabled = *u.SMSEnabled
	}
	if u.WhatsAppEnabled != nil {
		p.WhatsAppEnabled = *u.WhatsAppEnabled
	}
	if u.PushEnabled != nil {
		p.PushEnabled = *u.PushEnabled
	}
	if u.EmailPriority != nil {
		p.EmailPriority = *u.EmailPriority
	}
	if u.SMSPriority != nil {
		p.SMSPriority = *u.SMSPriority
	}
	if u.WhatsAppPriority != nil {
		p.WhatsAppPriority = *u.WhatsAppPriority
	}
	if u.PushPriority != nil {
		p.PushPriority = *u.PushPriority
	}
}
