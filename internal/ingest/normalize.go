package ingest

import (
	"net/url"
	"path"
	"strings"

	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// Role tokens matched case-insensitively as substrings against the source's
// author-role vocabulary. Anything unmatched defaults to client.
var (
	managerRoleTokens = []string{"manager", "admin", "operator", "agent", "staff"}
	systemRoleTokens  = []string{"system", "bot", "auto"}
)

var mediaKindByExt = map[string]string{
	".jpg":  model.KindImage,
	".jpeg": model.KindImage,
	".png":  model.KindImage,
	".gif":  model.KindImage,
	".webp": model.KindImage,
	".mp4":  model.KindVideo,
	".mov":  model.KindVideo,
	".avi":  model.KindVideo,
	".webm": model.KindVideo,
	".ogg":  model.KindVoice,
	".oga":  model.KindVoice,
	".opus": model.KindVoice,
	".mp3":  model.KindVoice,
	".wav":  model.KindVoice,
	".m4a":  model.KindVoice,
	".pdf":  model.KindFile,
	".doc":  model.KindFile,
	".docx": model.KindFile,
	".xls":  model.KindFile,
	".xlsx": model.KindFile,
	".zip":  model.KindFile,
}

// NormalizeAuthorRole maps a source role token onto the canonical author
// kinds.
func NormalizeAuthorRole(role string) string {
	lowered := strings.ToLower(role)
	for _, token := range managerRoleTokens {
		if strings.Contains(lowered, token) {
			return model.AuthorManager
		}
	}
	for _, token := range systemRoleTokens {
		if strings.Contains(lowered, token) {
			return model.AuthorSystem
		}
	}
	return model.AuthorClient
}

// mediaKindFromURL infers a message kind from a file URL's extension.
// Returns "" when the extension is not a known media type.
func mediaKindFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	return mediaKindByExt[ext]
}

// isBareMediaURL reports whether content is nothing but a link to a media
// file.
func isBareMediaURL(content string) bool {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return false
	}
	if strings.ContainsAny(trimmed, " \t\n") {
		return false
	}
	return mediaKindFromURL(trimmed) != ""
}

// Normalize turns an inbound event into the canonical message shape. The
// source's kind claim is advisory: a file URL overrides a "text" claim, and
// a bare media link in the content is promoted to a file message with the
// content cleared.
func Normalize(event model.InboundEvent) model.Message {
	message := model.Message{
		CorrelationID:     event.CorrelationID,
		Content:           strings.TrimSpace(event.Content),
		AuthorKind:        NormalizeAuthorRole(event.AuthorRole),
		Kind:              event.Kind,
		ChannelMessageID:  event.ChannelMessageID,
		PartnerMessageID:  event.PartnerMessageID,
		ReplyToExternalID: event.ReplyToExternalID,
		FileURL:           event.FileURL,
		DeliveryStatus:    model.DeliveryDelivered,
	}

	if message.Kind == "" {
		message.Kind = model.KindText
	}

	if message.FileURL != "" {
		if inferred := mediaKindFromURL(message.FileURL); inferred != "" {
			message.Kind = inferred
		} else if message.Kind == model.KindText {
			message.Kind = model.KindFile
		}
	}

	if message.FileURL == "" && isBareMediaURL(message.Content) {
		message.FileURL = strings.TrimSpace(message.Content)
		message.Kind = model.KindFile
		message.Content = ""
	}

	if event.Timestamp > 0 {
		// Partner timestamps may be naive; unix seconds are UTC by definition.
		message.CreatedAt = utils.UnixToTime(event.Timestamp)
	} else {
		message.CreatedAt = utils.Now()
	}

	return message
}

// IsReactionEvent reports whether the event is a reaction update rather than
// message content.
func IsReactionEvent(event model.InboundEvent) bool {
	return event.Kind == model.KindReaction || event.ReactionEmoji != ""
}
