package delivery

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
)

type fakeBot struct {
	sent     []tgbotapi.Chattable
	sendErrs []error
	nextID   int
	requests []tgbotapi.Params
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.nextID++
	return tgbotapi.Message{MessageID: 776 + f.nextID}, nil
}

func (f *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) MakeRequest(_ string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, params)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type fakeStore struct {
	url  string
	err  error
	key  string
	data []byte
}

func (f *fakeStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	f.key = key
	f.data = data
	return f.url, f.err
}

func newTestSender() (*ChannelSender, *fakeBot, *fakeStore) {
	bot := &fakeBot{}
	store := &fakeStore{url: "https://cdn.example.com/voice/42.ogg"}
	return &ChannelSender{bot: bot, store: store}, bot, store
}

func TestChannelSender_SendText(t *testing.T) {
	setupDeliveryTest(t)
	sender, bot, _ := newTestSender()
	message := &model.Message{Kind: model.KindText, Content: "*hello*"}

	err := sender.Send(context.Background(), Outbound{ChatID: 555, Message: message})

	require.NoError(t, err)
	require.Len(t, bot.sent, 1)
	text, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(555), text.ChatID)
	assert.Equal(t, "*hello*", text.Text)
	assert.Equal(t, tgbotapi.ModeMarkdown, text.ParseMode)
	assert.Equal(t, int64(777), message.ChannelMessageID)
	assert.Equal(t, model.DeliveryDelivered, message.DeliveryStatus)
}

func TestChannelSender_PlainFallbackOnFormattingError(t *testing.T) {
	setupDeliveryTest(t)
	sender, bot, _ := newTestSender()
	bot.sendErrs = []error{errors.New("Bad Request: can't parse entities: Unmatched '*'")}
	message := &model.Message{Kind: model.KindText, Content: "*broken"}

	err := sender.Send(context.Background(), Outbound{ChatID: 555, Message: message})

	require.NoError(t, err)
	require.Len(t, bot.sent, 2)
	retry := bot.sent[1].(tgbotapi.MessageConfig)
	assert.Empty(t, retry.ParseMode)
	assert.Equal(t, model.DeliveryDelivered, message.DeliveryStatus)
	assert.NotZero(t, message.ChannelMessageID)
}

func TestChannelSender_NonFormattingErrorFailsWithoutRetry(t *testing.T) {
	setupDeliveryTest(t)
	sender, bot, _ := newTestSender()
	bot.sendErrs = []error{errors.New("Forbidden: bot was blocked by the user")}
	message := &model.Message{Kind: model.KindText, Content: "hello"}

	err := sender.Send(context.Background(), Outbound{ChatID: 555, Message: message})

	require.Error(t, err)
	assert.Len(t, bot.sent, 1)
	assert.Zero(t, message.ChannelMessageID)
	assert.Equal(t, model.DeliveryError, message.DeliveryStatus)
}

func TestChannelSender_VoiceUploadsBeforeSend(t *testing.T) {
	setupDeliveryTest(t)
	sender, bot, store := newTestSender()
	message := &model.Message{Kind: model.KindVoice, CorrelationID: 1700000000000123}

	err := sender.Send(context.Background(), Outbound{
		ChatID:      555,
		Message:     message,
		Attachment:  []byte("opus-bytes"),
		FileName:    "note.ogg",
		ContentType: "audio/ogg",
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("opus-bytes"), store.data)
	assert.Contains(t, store.key, "1700000000000123/")
	assert.Equal(t, store.url, message.FileURL)
	require.Len(t, bot.sent, 1)
	_, ok := bot.sent[0].(tgbotapi.VoiceConfig)
	assert.True(t, ok)
}

func TestChannelSender_URLPersistedWhenSendFails(t *testing.T) {
	setupDeliveryTest(t)
	sender, bot, store := newTestSender()
	bot.sendErrs = []error{errors.New("Bad Gateway")}
	message := &model.Message{Kind: model.KindFile, CorrelationID: 1700000000000123}

	err := sender.Send(context.Background(), Outbound{
		ChatID:     555,
		Message:    message,
		Attachment: []byte("pdf-bytes"),
		FileName:   "contract.pdf",
	})

	require.Error(t, err)
	// Object store URL survives the delivery failure.
	assert.Equal(t, store.url, message.FileURL)
	assert.Equal(t, model.DeliveryError, message.DeliveryStatus)
}

func TestChannelSender_UploadFailureSkipsSend(t *testing.T) {
	setupDeliveryTest(t)
	sender, bot, store := newTestSender()
	store.err = errors.New("bucket unavailable")
	message := &model.Message{Kind: model.KindFile}

	err := sender.Send(context.Background(), Outbound{ChatID: 555, Message: message, Attachment: []byte("x")})

	require.Error(t, err)
	assert.Empty(t, bot.sent)
	assert.Equal(t, model.DeliveryError, message.DeliveryStatus)
}

func TestChannelSender_SetReaction(t *testing.T) {
	setupDeliveryTest(t)
	sender, bot, _ := newTestSender()

	err := sender.SetReaction(context.Background(), 555, 777, "🔥")

	require.NoError(t, err)
	require.Len(t, bot.requests, 1)
	assert.Equal(t, "555", bot.requests[0]["chat_id"])
	assert.Equal(t, "777", bot.requests[0]["message_id"])
	assert.Contains(t, bot.requests[0]["reaction"], "🔥")
}

func TestIsFormattingError(t *testing.T) {
	assert.True(t, isFormattingError(errors.New("Bad Request: can't parse entities")))
	assert.False(t, isFormattingError(errors.New("Too Many Requests: retry after 5")))
}
