package bot

import "fmt"

// Canned reply texts. Channels render these verbatim (web/WhatsApp) or via
// text-to-speech (voice), so they stay short and plain.
const (
	menuText = "Welcome to customer support! How can I help you today?\n" +
		"1. My EMI\n" +
		"2. My account balance\n" +
		"3. My loan amount\n" +
		"Reply with 1, 2 or 3, or just tell me what you need."

	replyEnterAccountID = "Sure. Please enter your account ID so I can verify your identity."

	replyAccountNotFound = "I could not find that account ID. Please check it and try again."

	replyOTPRestart = "That code is no longer valid. Please enter your account ID to restart verification."

	replyNoChallenge = "There is no active verification code. Please enter your account ID to restart verification."

	replyVerifyFirst = "I can connect you to an agent, but first I need to verify your identity. Please enter your account ID."

	replyVerified = "You are verified! " + menuText

	replyEscalated = "I am connecting you to one of our support agents. They have the full context of our conversation and will be with you shortly."

	replyWaitingForAgent = "An agent has been notified and will be with you shortly. Please hold on."

	replyAgentUnavailable = "I could not reach an agent right now. Please try again in a little while."

	replyNoAccountData = "I could not find that information on your profile yet. Would you like me to connect you to an agent?"

	// ReplyInternalError is what channel adapters send when HandleTurn
	// returns an error.
	ReplyInternalError = "Sorry, something went wrong on our side. Please try again."
)

func replyOTPSent(phoneLast4 string) string {
	return fmt.Sprintf("I have sent a 6-digit verification code to your phone ending in %s. Please enter it here. It expires in 5 minutes.", phoneLast4)
}

func replyOTPMismatch(remaining int) string {
	if remaining == 1 {
		return "That code does not match. You have 1 attempt left."
	}
	return fmt.Sprintf("That code does not match. You have %d attempts left.", remaining)
}
