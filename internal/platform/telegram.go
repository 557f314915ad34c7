package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"shopbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram implements domain.Connector for pages of kind "telegram". The
// page access token is the bot token; bot clients are cached per token
// since construction performs a getMe round trip.
type Telegram struct {
	logger *slog.Logger

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

func NewTelegram(logger *slog.Logger) *Telegram {
	return &Telegram{
		logger: logger,
		bots:   make(map[string]*tgbotapi.BotAPI),
	}
}

func (t *Telegram) Kind() string { return domain.PageKindTelegram }

func (t *Telegram) bot(token string) (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bot, ok := t.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.bots[token] = bot
	return bot, nil
}

func chatID(recipientID string) (int64, error) {
	id, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", recipientID, err)
	}
	return id, nil
}

func (t *Telegram) SendText(ctx context.Context, page domain.Page, recipientID, text string) (*domain.Receipt, error) {
	bot, err := t.bot(page.AccessToken)
	if err != nil {
		return nil, err
	}
	id, err := chatID(recipientID)
	if err != nil {
		return nil, err
	}
	sent, err := bot.Send(tgbotapi.NewMessage(id, text))
	if err != nil {
		return nil, fmt.Errorf("telegram send: %w", err)
	}
	return &domain.Receipt{MessageID: strconv.Itoa(sent.MessageID)}, nil
}

func (t *Telegram) SendImage(ctx context.Context, page domain.Page, recipientID, imageURL string) (*domain.Receipt, error) {
	bot, err := t.bot(page.AccessToken)
	if err != nil {
		return nil, err
	}
	id, err := chatID(recipientID)
	if err != nil {
		return nil, err
	}
	sent, err := bot.Send(tgbotapi.NewPhoto(id, tgbotapi.FileURL(imageURL)))
	if err != nil {
		return nil, fmt.Errorf("telegram photo: %w", err)
	}
	return &domain.Receipt{MessageID: strconv.Itoa(sent.MessageID)}, nil
}

func (t *Telegram) SendPaymentLink(ctx context.Context, page domain.Page, recipientID, title, linkURL string) (*domain.Receipt, error) {
	bot, err := t.bot(page.AccessToken)
	if err != nil {
		return nil, err
	}
	id, err := chatID(recipientID)
	if err != nil {
		return nil, err
	}
	msg := tgbotapi.NewMessage(id, title)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(title, linkURL),
		),
	)
	sent, err := bot.Send(msg)
	if err != nil {
		return nil, fmt.Errorf("telegram payment link: %w", err)
	}
	return &domain.Receipt{MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// FetchProfile reads the chat's first/last name via getChat.
func (t *Telegram) FetchProfile(ctx context.Context, page domain.Page, senderID string) (*domain.Profile, error) {
	bot, err := t.bot(page.AccessToken)
	if err != nil {
		return nil, err
	}
	id, err := chatID(senderID)
	if err != nil {
		return nil, err
	}
	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err != nil {
		return nil, fmt.Errorf("telegram profile: %w", err)
	}
	return &domain.Profile{FirstName: chat.FirstName, LastName: chat.LastName}, nil
}
