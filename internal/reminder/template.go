package reminder

import (
	"fmt"
	"time"
)

// Message is one rendered notification.
type Message struct {
	Subject string
	Body    string
}

// offset subject lines, keyed by offset name
var subjects = map[string]string{
	"3d": "Task Reminder - 3 Days Left",
	"1d": "Task Reminder - 1 Day Left",
	"2h": "Task Reminder - 2 Hours Left",
}

// RenderReminder builds the notification for one firing.
func RenderReminder(offsetName, taskTitle string, deadline time.Time) Message {
	subject, ok := subjects[offsetName]
	if !ok {
		subject = fmt.Sprintf("Task Reminder - %s Left", offsetName)
	}
	return Message{
		Subject: subject,
		Body: fmt.Sprintf("%q is due %s (%s). Don't miss the deadline.",
			taskTitle,
			deadline.UTC().Format("2006-01-02 15:04 MST"),
			humanizeRemaining(offsetName)),
	}
}

func humanizeRemaining(offsetName string) string {
	switch offsetName {
	case "3d":
		return "in 3 days"
	case "1d":
		return "in 1 day"
	case "2h":
		return "in 2 hours"
	}
	return "in " + offsetName
}

// RenderUpcoming builds the digest line for the deadline sweep.
func RenderUpcoming(taskTitle string, deadline time.Time, now time.Time) Message {
	days := int(deadline.Sub(now).Hours() / 24)
	return Message{
		Subject: "Upcoming Deadline",
		Body:    fmt.Sprintf("%q is due in %d day(s), on %s.", taskTitle, days, deadline.UTC().Format("2006-01-02")),
	}
}
