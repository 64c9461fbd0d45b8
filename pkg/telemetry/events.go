package telemetry

import (
	"strconv"
	"time"
)

const (
	FieldMessageType = "message_type"
	FieldEvent       = "event"

	MessageTypeEvent       = "event"
	MessageTypeMeasurement = "measurement"
)

const (
	EventStudyStart            = "study-start"
	EventStudyEnd              = "study-end"
	EventTriggerFired          = "trigger-fired"
	EventShadowNotification    = "shadow-notification"
	EventNotificationCount     = "notification-count"
	EventNotificationDelivered = "notification-delivered"
	EventNotificationResult    = "notification_result"
	EventAutoDismiss           = "auto-dismiss"
	EventInfoClicked           = "info-clicked"
	EventConnectivityCheck     = "connectivity_check"
)

// Event builds a record of the given name with extra fields.
func Event(name string, fields map[string]string) map[string]string {
	event := map[string]string{
		FieldMessageType: MessageTypeEvent,
		FieldEvent:       name,
	}
	for k, v := range fields {
		event[k] = v
	}
	return event
}

func StudyStart(variation string) map[string]string {
	return Event(EventStudyStart, map[string]string{"variation": variation})
}

func StudyEnd(reason string) map[string]string {
	return Event(EventStudyEnd, map[string]string{"reason": reason})
}

// TriggerFired is emitted for every evaluation, shown or not.
func TriggerFired(trigger string, shadow bool) map[string]string {
	return Event(EventTriggerFired, map[string]string{
		"trigger":   trigger,
		"is-shadow": strconv.FormatBool(shadow),
	})
}

// NotificationCounted reports the new count after bookkeeping. Shadow
// evaluations use the shadow-notification name.
func NotificationCounted(trigger string, shadow bool, count int) map[string]string {
	name := EventNotificationCount
	if shadow {
		name = EventShadowNotification
	}
	return Event(name, map[string]string{
		"trigger":                 trigger,
		"number_of_notifications": strconv.Itoa(count),
	})
}

func NotificationDelivered(trigger, sessionID string, ordinal int) map[string]string {
	return Event(EventNotificationDelivered, map[string]string{
		"trigger":             trigger,
		"session_id":          sessionID,
		"notification_number": strconv.Itoa(ordinal),
	})
}

// NotificationResult is the single record flushed when a session closes.
func NotificationResult(trigger, sessionID string, ordinal int, dontShowChecked bool, outcome string) map[string]string {
	return Event(EventNotificationResult, map[string]string{
		"trigger":             trigger,
		"session_id":          sessionID,
		"notification_number": strconv.Itoa(ordinal),
		"dont_show_checked":   strconv.FormatBool(dontShowChecked),
		"outcome":             outcome,
	})
}

func AutoDismiss(reason string) map[string]string {
	return Event(EventAutoDismiss, map[string]string{"reason": reason})
}

func InfoClicked(sessionID string) map[string]string {
	return Event(EventInfoClicked, map[string]string{"session_id": sessionID})
}

// ConnectivityCheck is a measurement of one probe run.
func ConnectivityCheck(success bool, attempts int, elapsed time.Duration) map[string]string {
	event := Event(EventConnectivityCheck, map[string]string{
		"success":    strconv.FormatBool(success),
		"attempts":   strconv.Itoa(attempts),
		"elapsed_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
	})
	event[FieldMessageType] = MessageTypeMeasurement
	return event
}
