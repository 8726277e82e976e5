package messages

import (
	"fmt"

	"setorin.id/notifclient/internal/domain"
)

// ─── Notification builders ───────────────────────────────────────────────────

// TypeTitle returns the display title for a notification type.
// Types the backend added after this client shipped get the generic title.
func TypeTitle(t domain.NotificationType) string {
	if !t.Known() {
		return GenericTitle
	}
	switch t {
	case domain.TypeBinStatus:
		return BinStatusTitle
	case domain.TypeAchievement:
		return AchievementTitle
	case domain.TypeReward:
		return RewardTitle
	default:
		return SystemTitle
	}
}

// HostNotification returns the title and body shown by the host facility.
// The notification's own text wins; type titles are the fallback.
func HostNotification(n domain.Notification) (string, string) {
	title := n.Title
	if title == "" {
		title = TypeTitle(n.Type)
	}
	body := n.Message
	if body == "" {
		body = EmptyBody
	}
	return title, body
}

// ─── Error builders ──────────────────────────────────────────────────────────

// ErrorText returns the user-facing text for an error kind.
func ErrorText(kind domain.ErrorKind) string {
	switch kind {
	case "":
		return ""
	case domain.KindUnauthenticated:
		return UnauthenticatedText
	case domain.KindAuthInvalid:
		return AuthInvalidText
	case domain.KindNetworkUnavailable:
		return NetworkUnavailableText
	case domain.KindGatewayDegraded:
		return GatewayDegradedText
	case domain.KindMutationFailed:
		return MutationFailedText
	case domain.KindServerError:
		return ServerErrorText
	case domain.KindNotFound:
		return NotFoundText
	default:
		return UnknownErrorText
	}
}

// UnreadSummary renders the unread badge text.
func UnreadSummary(count int) string {
	if count <= 0 {
		return UnreadSummaryNone
	}
	return fmt.Sprintf(UnreadSummaryBody, count)
}
