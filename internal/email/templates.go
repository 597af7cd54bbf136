package email

import (
	"errors"
	"fmt"
)

// Template enumerates the fixed outbound email variants.
type Template string

const (
	// TemplateWelcome greets a newly registered user.
	TemplateWelcome Template = "welcome"
	// TemplateNotification summarizes unread social activity.
	TemplateNotification Template = "notification"
	// TemplateStreakReminder nudges a user whose streak is at risk.
	TemplateStreakReminder Template = "streak-reminder"
	// TemplateDailyReminder is the scheduled daily nudge.
	TemplateDailyReminder Template = "daily-reminder"
)

// ErrUnknownTemplate indicates a template name outside the fixed set.
var ErrUnknownTemplate = errors.New("email: unknown template")

// Message is a rendered email ready for transport.
type Message struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// ParseTemplate maps external input to a known template.
func ParseTemplate(raw string) (Template, error) {
	switch Template(raw) {
	case TemplateWelcome, TemplateNotification, TemplateStreakReminder, TemplateDailyReminder:
		return Template(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, raw)
	}
}

// Render produces the subject and bodies for a template. Data keys:
// "name" everywhere; "count" for notification; "streak" for streak-reminder.
func Render(template Template, data map[string]string, appBaseURL string) (Message, error) {
	name := data["name"]
	if name == "" {
		name = "there"
	}

	switch template {
	case TemplateWelcome:
		return Message{
			Subject:  "Welcome to Strive!",
			HTMLBody: wrapHTML("Welcome to Strive!", fmt.Sprintf(`<p>Hi %s,</p><p>Your account is ready. Claim your first activity, climb the leaderboard, and keep your streak alive.</p><p style="text-align: center;"><a href="%s" class="button">Open Strive</a></p>`, name, appBaseURL)),
			TextBody: fmt.Sprintf("Hi %s,\n\nYour account is ready. Claim your first activity, climb the leaderboard, and keep your streak alive.\n\nOpen Strive: %s\n", name, appBaseURL),
		}, nil
	case TemplateNotification:
		count := data["count"]
		if count == "" {
			count = "new"
		}
		return Message{
			Subject:  "You have new activity on Strive",
			HTMLBody: wrapHTML("New activity", fmt.Sprintf(`<p>Hi %s,</p><p>You have %s unread notifications waiting for you.</p><p style="text-align: center;"><a href="%s" class="button">See what's new</a></p>`, name, count, appBaseURL)),
			TextBody: fmt.Sprintf("Hi %s,\n\nYou have %s unread notifications waiting for you.\n\nSee what's new: %s\n", name, count, appBaseURL),
		}, nil
	case TemplateStreakReminder:
		streak := data["streak"]
		if streak == "" {
			streak = "your"
		}
		return Message{
			Subject:  "Don't break your streak!",
			HTMLBody: wrapHTML("Streak at risk", fmt.Sprintf(`<p>Hi %s,</p><p>Your %s day streak ends at midnight. One quick activity keeps it alive.</p><p style="text-align: center;"><a href="%s" class="button">Claim an activity</a></p>`, name, streak, appBaseURL)),
			TextBody: fmt.Sprintf("Hi %s,\n\nYour %s day streak ends at midnight. One quick activity keeps it alive.\n\nClaim an activity: %s\n", name, streak, appBaseURL),
		}, nil
	case TemplateDailyReminder:
		return Message{
			Subject:  "Your daily Strive check-in",
			HTMLBody: wrapHTML("Daily check-in", fmt.Sprintf(`<p>Hi %s,</p><p>A new day, a fresh leaderboard. Log today's activities before your friends pull ahead.</p><p style="text-align: center;"><a href="%s" class="button">Log an activity</a></p>`, name, appBaseURL)),
			TextBody: fmt.Sprintf("Hi %s,\n\nA new day, a fresh leaderboard. Log today's activities before your friends pull ahead.\n\nLog an activity: %s\n", name, appBaseURL),
		}, nil
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, template)
	}
}

func wrapHTML(heading, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>
		body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.header { background-color: #2f9e68; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
		.content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
		.button { display: inline-block; padding: 12px 30px; background-color: #2f9e68; color: white; text-decoration: none; border-radius: 5px; margin: 20px 0; }
		.footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
	</style>
</head>
<body>
	<div class="container">
		<div class="header"><h1>%s</h1></div>
		<div class="content">%s</div>
		<div class="footer"><p>This is an automated email from Strive. Please do not reply.</p></div>
	</div>
</body>
</html>
`, heading, body)
}
