package profiles

import "strconv"

// Preference keys stored in user_settings.
const (
	KeyChatbotEnabled  = "chatbot_enabled"
	KeyChatbotMode     = "chatbot_mode"
	KeyAutoFillAddress = "auto_fill_address_from_admin_barangay"
)

// Chatbot modes understood by the assistant widget.
const (
	ChatbotModeOffline = "offline"
	ChatbotModeOnline  = "online"
)

// Settings are the per-user preferences loaded when a session becomes usable.
type Settings struct {
	ChatbotEnabled  bool   `json:"chatbot_enabled"`
	ChatbotMode     string `json:"chatbot_mode"`
	AutoFillAddress bool   `json:"auto_fill_address_from_admin_barangay"`
}

// DefaultSettings is used for missing keys and whenever the preference read fails.
func DefaultSettings() Settings {
	return Settings{
		ChatbotEnabled:  true,
		ChatbotMode:     ChatbotModeOffline,
		AutoFillAddress: true,
	}
}

// SettingsFromValues decodes string-encoded preferences. Booleans are true only
// for the literal "true"; absent keys keep their defaults.
func SettingsFromValues(values map[string]string) Settings {
	settings := DefaultSettings()
	if raw, ok := values[KeyChatbotEnabled]; ok {
		settings.ChatbotEnabled = raw == "true"
	}
	if raw, ok := values[KeyChatbotMode]; ok && raw != "" {
		settings.ChatbotMode = raw
	}
	if raw, ok := values[KeyAutoFillAddress]; ok {
		settings.AutoFillAddress = raw == "true"
	}
	return settings
}

// Values encodes the settings into their stored string form.
func (s Settings) Values() map[string]string {
	return map[string]string{
		KeyChatbotEnabled:  strconv.FormatBool(s.ChatbotEnabled),
		KeyChatbotMode:     s.ChatbotMode,
		KeyAutoFillAddress: strconv.FormatBool(s.AutoFillAddress),
	}
}
