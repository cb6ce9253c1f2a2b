package engine

import "fmt"

var (
	validLanguageCodes = map[string]bool{"ko_kr": true, "en_us": true, "ja_jp": true, "id_id": true}
	validLogLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "silent": true}
)

const (
	MinSpeechSpeed = 0.5
	MaxSpeechSpeed = 2.0
)

// InitOption is the payload of the engine init command.
type InitOption struct {
	SDKKey              string  `json:"sdk_key"`
	AvatarID            string  `json:"avatar_id"`
	VoiceCode           string  `json:"voice_code,omitempty"`
	SubtitleCode        string  `json:"subtitle_code,omitempty"`
	VoiceTTSSpeechSpeed float64 `json:"voice_tts_speech_speed,omitempty"`
	EnableMicrophone    bool    `json:"enable_microphone,omitempty"`
	LogLevel            string  `json:"log_level,omitempty"`
	CustomID            string  `json:"custom_id,omitempty"`
	UserKey             string  `json:"user_key,omitempty"`
}

// Validate checks required fields and the enumerated values.
func (o InitOption) Validate() error {
	if o.SDKKey == "" {
		return fmt.Errorf("%w: sdk_key is required", ErrInvalidOption)
	}
	if o.AvatarID == "" {
		return fmt.Errorf("%w: avatar_id is required", ErrInvalidOption)
	}
	if err := validateVoice(o.VoiceCode, o.SubtitleCode, o.VoiceTTSSpeechSpeed); err != nil {
		return err
	}
	if o.LogLevel != "" && !validLogLevels[o.LogLevel] {
		return fmt.Errorf("%w: log_level %q", ErrInvalidOption, o.LogLevel)
	}
	return nil
}

// ChangeAvatarOption is the payload of the changeAvatar command.
type ChangeAvatarOption struct {
	AvatarID            string  `json:"avatar_id"`
	SubtitleCode        string  `json:"subtitle_code,omitempty"`
	VoiceCode           string  `json:"voice_code,omitempty"`
	VoiceTTSSpeechSpeed float64 `json:"voice_tts_speech_speed,omitempty"`
}

// Validate checks the avatar id and the voice settings.
func (o ChangeAvatarOption) Validate() error {
	if o.AvatarID == "" {
		return fmt.Errorf("%w: avatar_id is required", ErrInvalidOption)
	}
	return validateVoice(o.VoiceCode, o.SubtitleCode, o.VoiceTTSSpeechSpeed)
}

// Zero values mean "engine default" and pass.
func validateVoice(voice, subtitle string, speed float64) error {
	if voice != "" && !validLanguageCodes[voice] {
		return fmt.Errorf("%w: voice_code %q", ErrInvalidOption, voice)
	}
	if subtitle != "" && !validLanguageCodes[subtitle] {
		return fmt.Errorf("%w: subtitle_code %q", ErrInvalidOption, subtitle)
	}
	if speed != 0 && (speed < MinSpeechSpeed || speed > MaxSpeechSpeed) {
		return fmt.Errorf("%w: voice_tts_speech_speed %.2f outside [%.1f, %.1f]",
			ErrInvalidOption, speed, MinSpeechSpeed, MaxSpeechSpeed)
	}
	return nil
}
