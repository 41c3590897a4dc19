package protocol

import (
	"fmt"
	"time"
)

// Prompts. Clients that auto-respond match on these prefixes.
const (
	PromptUsername = ">Username:"
	PromptPassword = ">Password:"
	PromptCommand  = ">Command:"
)

// BroadcastEchoSuffix marks the sender's own copy of a broadcast so the
// client can tell it apart from a received broadcast and skip the prompt.
const BroadcastEchoSuffix = "__broadcast"

// Fixed server texts
const (
	Welcome           = ">Welcome to simple chat server!"
	OfflineHeader     = ">You received the following message(s) when you were offline:"
	Farewell          = "Thank you for using the chat program!"
	TimedOut          = "You have timed out due to inactivity. Please log back in if you would like to continue chatting."
	CredentialsFailed = "Your credentials could not be authenticated, please try again."
	UnknownCommand    = "You have given me a command I don't understand. Please try again."
	NullCommand       = "You have given me a null command that I can't use. Please try again."
	MessageSelf       = "You cannot send a message to yourself. Please provide another command."
	BlockSelf         = "You cannot block yourself. Please provide another command."
	LineTooLong       = "Your input line was too long and the connection will be closed."
	ServerShutdown    = "The chat server is shutting down. Please log back in later."
)

// ChatLine renders a delivered message as "<from>: <body>".
func ChatLine(from, body string) string {
	return from + ": " + body
}

// BroadcastEcho renders the sender's own copy of a broadcast.
func BroadcastEcho(from, body string) string {
	return ChatLine(from, body) + BroadcastEchoSuffix
}

// LockedOut is sent when an (address, username) pair is still locked.
func LockedOut(username, address string) string {
	return fmt.Sprintf("Username %s is still blocked at address %s. Please try again later.", username, address)
}

// TooManyFailures explains a fresh lockout.
func TooManyFailures(blockDuration time.Duration) []string {
	return []string{
		"You have failed to provide a valid username and password.",
		fmt.Sprintf("You have been blocked for %s.", blockDuration),
	}
}

// AlreadyConnected explains why a valid login was refused.
func AlreadyConnected(username string) []string {
	return []string{
		fmt.Sprintf("user %s is already connected.", username),
		"Please either log off from your other session, or log on as a different user.",
	}
}

func NotAUserMessage(username string) string {
	return fmt.Sprintf("%s is not a user of this chat client so they can't be messaged.", username)
}

func NotAUserBlock(username string) string {
	return fmt.Sprintf("%s is not a user of this chat client so they can't be blocked. Please provide another command.", username)
}

func NotAUserUnblock(username string) string {
	return fmt.Sprintf("%s is not a user of this chat client so they cannot be unblocked. Please provide another command.", username)
}

func Blocked(username string) string {
	return fmt.Sprintf("You have successfully blocked %s from sending you messages.", username)
}

func Unblocked(username string) string {
	return fmt.Sprintf("You have successfully unblocked %s.", username)
}

func NotBlocked(username string) string {
	return fmt.Sprintf("%s cannot be unblocked because they are not blocked.", username)
}

// Help returns the fixed command reference. recentWindow is the wholasthr
// window currently configured on the server.
func Help(recentWindow time.Duration) []string {
	return []string{
		"List of available commands:",
		"whoelse: Displays names of other connected users.",
		fmt.Sprintf("wholasthr: Displays name of only those users that connected within the last %s.", recentWindow),
		"broadcast <message>: Broadcasts <message> to all connected users.",
		"message <user> <message>: Private <message> to a <user>",
		"block <user>: Blocks the <user> from sending any messages. If <user> is self, displays error.",
		"unblock <user>: Unblocks the <user> who has been previously blocked. If <user> was not already blocked, display error.",
		"analysis: Prints a statistical distribution of all of the commands invoked thus far, by all clients, since the Server was first run.",
		"logout: Log out of the chat program.",
	}
}
