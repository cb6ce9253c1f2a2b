package gate

// Advisory texts shown next to the avatar. Chat-driven texts are chosen by the
// gate; command texts are set by the session controller.
const (
	GuidanceStart        = "Connect with the start chat button."
	GuidanceConnected    = "Connection complete."
	GuidanceDisconnected = "Disconnected. Connect again with the start chat button."

	GuidancePreparing = "The avatar is preparing a response. Please wait a moment."
	GuidanceSpeaking  = "The avatar is speaking. You can cancel it with stopSpeech."
	GuidanceEnded     = "The avatar finished speaking. Type a message to continue the conversation."

	GuidanceSttStarted   = "Recording voice. Finish with endStt or cancel with cancelStt."
	GuidanceSttEnded     = "Voice recording finished."
	GuidanceSttCancelled = "Voice recording (startStt) cancelled."

	GuidanceInterruptRejected = "Speech cannot be interrupted while the avatar is preparing a response."
	GuidanceInterruptApproved = "Stopping the avatar's speech."
)

// Input placeholders for the text and echo fields.
const (
	PlaceholderReady = "Type a message."
	PlaceholderBusy  = "The avatar is speaking. Type a message once it has finished."
)

// chatGuidance returns the advisory text for t. Only three chat types produce
// guidance; everything else leaves the current text untouched.
func chatGuidance(t ChatType) (string, bool) {
	switch t {
	case ChatPreparingResponse:
		return GuidancePreparing, true
	case ChatText:
		return GuidanceSpeaking, true
	case ChatResponseIsEnded:
		return GuidanceEnded, true
	default:
		return "", false
	}
}
