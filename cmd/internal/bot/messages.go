package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"bouncer/cmd/internal/grant"
)

// Messages holds the operator-editable texts. They are HTML.
type Messages struct {
	Start string `yaml:"start"`
	Help  string `yaml:"help"`
	Setup string `yaml:"setup"`
}

// DefaultMessages returns the built-in texts.
func DefaultMessages() Messages {
	return Messages{
		Start: "Just <strong>post or forward sample media here</strong> so that we know you have material to share.\n\n" +
			"The bot will respond with your link!",
		Help: "Type /start to get started.\n\nType /reset to forget everything you uploaded.",
		Setup: "ADMIN SETUP INSTRUCTIONS\n\n" +
			"1. Make the bot an admin in the private group you want to protect.\n\n" +
			"2. Use /cleandb to see every chat the bot is in. If a group is missing, post something there so the bot sees it.\n\n" +
			"3. Use /register to choose the protected group. Selecting None disables granting.\n\n" +
			"4. Point users at the bot. They get their one-time link by sending /start here.\n\n" +
			"5. Use /csv to download the users of every chat. When a group disappears its users are archived to CSV.\n\n" +
			"6. Use /ban &lt;user_id&gt; and /unban &lt;user_id&gt; to silence a user.",
	}
}

// Merge returns m with empty fields filled from def.
func (m Messages) Merge(def Messages) Messages {
	if strings.TrimSpace(m.Start) == "" {
		m.Start = def.Start
	}
	if strings.TrimSpace(m.Help) == "" {
		m.Help = def.Help
	}
	if strings.TrimSpace(m.Setup) == "" {
		m.Setup = def.Setup
	}
	return m
}

const (
	textNoDestination = "Currently, there is no active chat to link to. Please check back later."
	textDuplicate     = "You already uploaded this one, so it was not counted again."
	textReset         = "Your uploads and access record have been deleted."
	textRegisterMenu  = "Select the group that you want to let users through to:"
	textInvalidAction = "Invalid action."
	textNoChats       = "No active chats yet. Post something in a group the bot is in."
)

// FormatRemaining renders a link lifetime as "N hours and M minutes",
// "M minutes", or "less than one minute".
func FormatRemaining(d time.Duration) string {
	total := int(d / time.Minute)
	if total <= 0 {
		return "less than one minute"
	}
	hours, minutes := total/60, total%60
	if hours == 0 {
		return plural(minutes, "minute")
	}
	return plural(hours, "hour") + " and " + plural(minutes, "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func progressText(count, required int) string {
	return fmt.Sprintf("You have uploaded %d out of %d required media files.", count, required)
}

// decisionText renders a grant decision for the user. name is already escaped.
func decisionText(d grant.Decision, name string, window time.Duration) string {
	switch d.Kind {
	case grant.BelowQuota:
		return progressText(d.Count, d.Required)
	case grant.NewGrant:
		text := "Here is your one-time invite link:\n" + html.EscapeString(d.Link)
		if window > 0 {
			text += "\n\nThis link will expire in " + FormatRemaining(d.Remaining) + "."
		}
		return text
	case grant.ExistingLink:
		text := fmt.Sprintf("Welcome back, %s! You have already been granted access. Here is your invite link:\n%s",
			name, html.EscapeString(d.Link))
		if window > 0 {
			text += "\n\nThis link will expire in " + FormatRemaining(d.Remaining) + "."
		}
		return text
	default:
		return textNoDestination
	}
}

func startText(msgs Messages, chatTitle string, d grant.Decision, name string, window time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<strong>Welcome to %s</strong>\n\n", html.EscapeString(chatTitle))
	b.WriteString(msgs.Start)
	b.WriteString("\n\n")
	b.WriteString(decisionText(d, name, window))
	return b.String()
}

func albumSummary(accepted, duplicates int) string {
	switch {
	case duplicates == 0:
		return fmt.Sprintf("Received %s.", plural(accepted, "new item"))
	case accepted == 0:
		return "Everything in that album was already uploaded, so nothing was counted again."
	default:
		return fmt.Sprintf("Received %s; %d already uploaded.", plural(accepted, "new item"), duplicates)
	}
}
