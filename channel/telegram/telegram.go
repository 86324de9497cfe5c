// Package telegram provides a Telegram bot channel for DataWizard.
//
// Uses long polling -- no public URL or webhook needed. Send the bot a .csv
// document to load a dataset, then chat about it. Plan proposals arrive as
// inline keyboard buttons; pressing one confirms or cancels the plan.
package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wizardhq/datawizard/channel"
	"github.com/wizardhq/datawizard/model"
)

// Bot is the Telegram channel for DataWizard.
type Bot struct {
	api  *tgbotapi.BotAPI
	sess channel.Session

	// delivered tracks assistant turn IDs already sent to the chat, so a
	// snapshot can be re-scanned without duplicating messages.
	mu        sync.Mutex
	delivered map[string]bool
}

// NewBot creates a new Telegram bot.
func NewBot(token string, sess channel.Session) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized as @%s", api.Self.UserName)

	return &Bot{
		api:       api,
		sess:      sess,
		delivered: map[string]bool{},
	}, nil
}

// Name identifies the channel in logs.
func (b *Bot) Name() string { return "telegram" }

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	log.Println("Telegram bot listening for messages...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case update.CallbackQuery != nil:
				go b.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil:
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

// handleMessage processes an incoming message or document.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if msg.Document != nil {
		b.handleDocument(ctx, chatID, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "/start" || text == "/help":
		b.send(chatID, ""+
			"*DataWizard* - chat with your dataset.\n\n"+
			"Send me a .csv file to get started, then ask questions in plain "+
			"language:\n"+
			"`what is the average revenue by region?`\n\n"+
			"Commands:\n"+
			"/mode planning|fast - plan first or execute directly\n"+
			"/retry - re-run your last question\n"+
			"/report - generate a dataset report\n"+
			"/reset - start over")
		return
	case text == "/reset":
		b.sess.Reset()
		b.mu.Lock()
		b.delivered = map[string]bool{}
		b.mu.Unlock()
		b.send(chatID, "Session cleared. Send a .csv file to begin.")
		return
	case text == "/retry":
		b.relay(chatID, b.sess.RetryLastTurn(ctx))
		return
	case text == "/report":
		b.relay(chatID, b.sess.GenerateReport(ctx))
		return
	case strings.HasPrefix(text, "/mode"):
		mode := model.Mode(strings.TrimSpace(strings.TrimPrefix(text, "/mode")))
		if !model.ValidMode(mode) {
			b.send(chatID, "Usage: /mode planning or /mode fast")
			return
		}
		b.sess.SetMode(mode)
		b.send(chatID, fmt.Sprintf("Mode set to %s.", mode))
		return
	case text == "":
		return
	}

	b.relay(chatID, b.sess.SendMessage(ctx, text))
}

// handleDocument downloads an attached file and uploads it as the dataset.
func (b *Bot) handleDocument(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	doc := msg.Document

	url, err := b.api.GetFileDirectURL(doc.FileID)
	if err != nil {
		log.Printf("Telegram: resolving file %s: %v", doc.FileID, err)
		b.send(chatID, "I couldn't download that file, please try again.")
		return
	}

	resp, err := http.Get(url)
	if err != nil {
		log.Printf("Telegram: downloading file %s: %v", doc.FileID, err)
		b.send(chatID, "I couldn't download that file, please try again.")
		return
	}
	defer resp.Body.Close()

	b.relay(chatID, b.sess.UploadDataset(ctx, doc.FileName, resp.Body))
}

// handleCallback dispatches a plan-proposal button press.
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	kind, turnID, ok := strings.Cut(cb.Data, ":")
	if !ok || cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	var dispatched bool
	switch model.ActionKind(kind) {
	case model.ActionConfirm:
		b.answerCallback(cb.ID, "Executing plan...")
		dispatched = b.sess.ConfirmPlan(ctx, turnID)
	case model.ActionCancel:
		b.answerCallback(cb.ID, "Plan canceled.")
		dispatched = b.sess.CancelPlan(turnID)
	default:
		return
	}

	// The proposal is gone either way; drop its buttons.
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cb.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := b.api.Request(edit); err != nil {
		log.Printf("Telegram: clearing keyboard: %v", err)
	}

	b.relay(chatID, dispatched)
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.Printf("Telegram: answering callback: %v", err)
	}
}

// relay reports the outcome of a dispatch: new assistant turns, or the
// reason nothing happened.
func (b *Bot) relay(chatID int64, dispatched bool) {
	snap := b.sess.Snapshot()

	if !dispatched {
		switch {
		case snap.LastError != "":
			b.send(chatID, "⚠ "+snap.LastError)
		case snap.Busy:
			b.send(chatID, "Still working on the previous request, one moment.")
		case !snap.DatasetReady:
			b.send(chatID, "Send me a .csv file first.")
		}
		return
	}

	if snap.LastError != "" {
		b.send(chatID, "❌ "+snap.LastError+"\n\nUse /retry to try again.")
	}
	b.deliverNew(chatID, snap)
}

// deliverNew sends assistant turns that have not reached the chat yet.
func (b *Bot) deliverNew(chatID int64, snap model.Snapshot) {
	for _, turn := range snap.Turns {
		if turn.Role != model.RoleAssistant {
			continue
		}
		b.mu.Lock()
		seen := b.delivered[turn.ID]
		b.delivered[turn.ID] = true
		b.mu.Unlock()
		if seen {
			continue
		}
		b.sendTurn(chatID, turn)
	}
}

// sendTurn renders one assistant turn: text, optional image, optional
// plan-proposal keyboard.
func (b *Bot) sendTurn(chatID int64, turn model.Turn) {
	if turn.HasActions() {
		msg := tgbotapi.NewMessage(chatID, outboundText(turn.Content))
		var row []tgbotapi.InlineKeyboardButton
		for _, a := range turn.Actions {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(
				a.Label, string(a.Effect.Kind)+":"+a.Effect.TurnID))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
		if _, err := b.api.Send(msg); err != nil {
			log.Printf("Telegram: sending proposal: %v", err)
		}
		return
	}

	if turn.Content != "" {
		b.send(chatID, turn.Content)
	}

	if turn.ImageData != "" {
		png, err := decodeImage(turn.ImageData)
		if err != nil {
			log.Printf("Telegram: decoding chart image: %v", err)
			return
		}
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
			Name:  "chart.png",
			Bytes: png,
		})
		if _, err := b.api.Send(photo); err != nil {
			log.Printf("Telegram: sending chart: %v", err)
		}
	}
}

// Telegram rejects messages longer than 4096 characters.
const maxMessageLength = 4096

// outboundText clamps a message to Telegram's length limit so long report
// turns degrade to a truncated message instead of a send failure.
func outboundText(text string) string {
	return model.Truncate(text, maxMessageLength)
}

// send delivers a Markdown message, falling back to plain text when
// Telegram rejects the formatting.
func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, outboundText(text))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := b.api.Send(msg); err != nil {
		msg.ParseMode = ""
		if _, err := b.api.Send(msg); err != nil {
			log.Printf("Telegram: failed to send message: %v", err)
		}
	}
}

// decodeImage strips an optional data URL prefix and decodes base64 PNG data.
func decodeImage(data string) ([]byte, error) {
	if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	return base64.StdEncoding.DecodeString(data)
}
