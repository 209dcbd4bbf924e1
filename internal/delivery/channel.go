// Package delivery pushes conversation state outward: messages to the chat
// channel and status changes to the partner webhook. Everything here is
// best-effort; the local row is the source of truth and is persisted by the
// caller whether or not the wire call succeeded.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/config"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/objstore"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// botAPI is the slice of tgbotapi.BotAPI the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Outbound is one send request. Message is the row being delivered; the
// sender records the channel message id and delivery status on it, and the
// caller persists the row regardless of the outcome.
type Outbound struct {
	ChatID      int64
	Message     *model.Message
	Attachment  []byte
	FileName    string
	ContentType string
}

// ChannelSender delivers messages to the chat channel with a rich-format
// first, plain-format fallback strategy.
type ChannelSender struct {
	bot   botAPI
	store objstore.Store
}

// NewChannelSender authenticates against the chat-channel API.
func NewChannelSender(cfg config.ChannelConfig, store objstore.Store) (*ChannelSender, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate channel bot: %w", err)
	}
	return &ChannelSender{bot: bot, store: store}, nil
}

// Send delivers the message. Attachment bytes are uploaded to the object
// store first and the public URL lands on the row even when the channel
// send fails, so the content stays recoverable. The returned error is for
// logging; the row already carries the delivery outcome.
func (s *ChannelSender) Send(ctx context.Context, out Outbound) error {
	log := logger.FromContext(ctx)
	message := out.Message

	if len(out.Attachment) > 0 {
		url, err := s.uploadAttachment(ctx, out)
		if err != nil {
			message.ChannelMessageID = 0
			message.DeliveryStatus = model.DeliveryError
			observer.IncChannelSend(message.Kind, "upload_error")
			return err
		}
		message.FileURL = url
	}

	sent, err := s.bot.Send(s.buildChattable(out, true))
	if err != nil && isFormattingError(err) {
		log.Debug("Rich-format send rejected, retrying plain",
			zap.Int64("chat_id", out.ChatID), zap.Error(err))
		sent, err = s.bot.Send(s.buildChattable(out, false))
	}
	if err != nil {
		message.ChannelMessageID = 0
		message.DeliveryStatus = model.DeliveryError
		observer.IncChannelSend(message.Kind, "error")
		return fmt.Errorf("channel send failed: %w", err)
	}

	message.ChannelMessageID = int64(sent.MessageID)
	message.DeliveryStatus = model.DeliveryDelivered
	observer.IncChannelSend(message.Kind, "success")
	return nil
}

// SetReaction mirrors a reaction onto the channel message. Best-effort.
func (s *ChannelSender) SetReaction(ctx context.Context, chatID, channelMessageID int64, emoji string) error {
	reaction, err := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
	if err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_id", channelMessageID)
	params["reaction"] = string(reaction)

	if _, err := s.bot.MakeRequest("setMessageReaction", params); err != nil {
		return fmt.Errorf("failed to set reaction: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges an inline-button press.
func (s *ChannelSender) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if _, err := s.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

func (s *ChannelSender) uploadAttachment(ctx context.Context, out Outbound) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("%w: object store is not configured", apperrors.ErrConfiguration)
	}
	name := out.FileName
	if name == "" {
		name = "attachment"
	}
	key := fmt.Sprintf("%d/%d-%s", out.Message.CorrelationID, utils.Now().UnixNano(), name)
	return s.store.Put(ctx, key, out.Attachment, out.ContentType)
}

func (s *ChannelSender) buildChattable(out Outbound, rich bool) tgbotapi.Chattable {
	parseMode := ""
	if rich {
		parseMode = tgbotapi.ModeMarkdown
	}
	message := out.Message

	if message.FileURL == "" {
		text := tgbotapi.NewMessage(out.ChatID, message.Content)
		text.ParseMode = parseMode
		if replyID := int(replyTarget(message)); replyID > 0 {
			text.ReplyToMessageID = replyID
		}
		return text
	}

	file := tgbotapi.FileURL(message.FileURL)
	switch message.Kind {
	case model.KindImage:
		photo := tgbotapi.NewPhoto(out.ChatID, file)
		photo.Caption = message.Content
		photo.ParseMode = parseMode
		return photo
	case model.KindVoice:
		voice := tgbotapi.NewVoice(out.ChatID, file)
		voice.Caption = message.Content
		voice.ParseMode = parseMode
		return voice
	case model.KindVideo:
		video := tgbotapi.NewVideo(out.ChatID, file)
		video.Caption = message.Content
		video.ParseMode = parseMode
		return video
	default:
		document := tgbotapi.NewDocument(out.ChatID, file)
		document.Caption = message.Content
		document.ParseMode = parseMode
		return document
	}
}

func replyTarget(message *model.Message) int64 {
	if message.ReplyToExternalID == "" {
		return 0
	}
	var id int64
	if _, err := fmt.Sscanf(message.ReplyToExternalID, "%d", &id); err != nil {
		return 0
	}
	return id
}

// isFormattingError recognizes the channel's entity-parse rejection, the
// one failure worth a plain-format retry.
func isFormattingError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "can't parse entities") ||
		strings.Contains(msg, "can't parse message text") ||
		strings.Contains(msg, "wrong entity")
}
