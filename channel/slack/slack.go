// Package slack provides a Slack bot channel for DataWizard using Socket Mode.
//
// Socket Mode connects to Slack via WebSocket -- no public URL needed.
// Share a .csv file with the bot to load a dataset, then @mention or DM it
// with questions. Plan proposals are posted as Block Kit buttons; pressing
// one confirms or cancels the plan.
package slack

import (
	"bytes"
	"context"
	"encoding/base64"
	"log"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/wizardhq/datawizard/channel"
	"github.com/wizardhq/datawizard/model"
)

// Bot is the Slack Socket Mode channel for DataWizard.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	sess         channel.Session

	mu        sync.Mutex
	delivered map[string]bool
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, sess channel.Session) *Bot {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		sess:         sess,
		delivered:    map[string]bool{},
	}
}

// Name identifies the channel in logs.
func (b *Bot) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	log.Println("Slack bot connecting via Socket Mode...")
	return b.socketClient.RunContext(ctx)
}

// eventLoop reads events from the Socket Mode client and dispatches them.
func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

// handleEvent dispatches a single Socket Mode event.
func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("Slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("Slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("Slack: connection error, will retry...")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Acknowledge immediately (Slack requires ack within 3 seconds).
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			b.handleCallbackEvent(ctx, eventsAPIEvent.InnerEvent)
		}
	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		b.socketClient.Ack(*evt.Request)
		go b.handleInteraction(ctx, callback)
	}
}

// handleCallbackEvent routes inner Events API events.
func (b *Bot) handleCallbackEvent(ctx context.Context, innerEvent slackevents.EventsAPIInnerEvent) {
	switch ev := innerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		go b.handleText(ctx, ev.Channel, stripMention(ev.Text))
	case *slackevents.MessageEvent:
		// Direct messages only; channel traffic goes through @mentions.
		// Skip our own and other bots' messages.
		if ev.ChannelType != "im" || ev.BotID != "" {
			return
		}
		if len(ev.Files) > 0 {
			go b.handleFiles(ctx, ev.Channel, ev.Files)
			return
		}
		go b.handleText(ctx, ev.Channel, strings.TrimSpace(ev.Text))
	}
}

// handleText processes a chat message or a slash-style command.
func (b *Bot) handleText(ctx context.Context, channelID, text string) {
	switch {
	case text == "help":
		b.post(channelID, "*DataWizard* - chat with your dataset.\n\n"+
			"Share a .csv file to get started, then ask questions in plain language.\n\n"+
			"Commands: `mode planning|fast`, `retry`, `report`, `reset`")
		return
	case text == "reset":
		b.sess.Reset()
		b.mu.Lock()
		b.delivered = map[string]bool{}
		b.mu.Unlock()
		b.post(channelID, "Session cleared. Share a .csv file to begin.")
		return
	case text == "retry":
		b.relay(channelID, b.sess.RetryLastTurn(ctx))
		return
	case text == "report":
		b.relay(channelID, b.sess.GenerateReport(ctx))
		return
	case strings.HasPrefix(text, "mode "):
		mode := model.Mode(strings.TrimSpace(strings.TrimPrefix(text, "mode ")))
		if !model.ValidMode(mode) {
			b.post(channelID, "Usage: `mode planning` or `mode fast`")
			return
		}
		b.sess.SetMode(mode)
		b.post(channelID, "Mode set to "+string(mode)+".")
		return
	case text == "":
		return
	}

	b.relay(channelID, b.sess.SendMessage(ctx, text))
}

// handleFiles downloads shared files and uploads the first one as the dataset.
func (b *Bot) handleFiles(ctx context.Context, channelID string, files []slackevents.File) {
	for _, f := range files {
		info, _, _, err := b.api.GetFileInfo(f.ID, 0, 0)
		if err != nil {
			log.Printf("Slack: resolving file %s: %v", f.ID, err)
			continue
		}

		var buf bytes.Buffer
		if err := b.api.GetFile(info.URLPrivateDownload, &buf); err != nil {
			log.Printf("Slack: downloading file %s: %v", f.ID, err)
			b.post(channelID, "I couldn't download that file, please try again.")
			return
		}

		b.relay(channelID, b.sess.UploadDataset(ctx, info.Name, &buf))
		return
	}
}

// handleInteraction dispatches a plan-proposal button press.
func (b *Bot) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions || len(callback.ActionCallback.BlockActions) == 0 {
		return
	}
	action := callback.ActionCallback.BlockActions[0]
	channelID := callback.Channel.ID
	turnID := action.Value

	var dispatched bool
	switch model.ActionKind(action.ActionID) {
	case model.ActionConfirm:
		dispatched = b.sess.ConfirmPlan(ctx, turnID)
	case model.ActionCancel:
		dispatched = b.sess.CancelPlan(turnID)
	default:
		return
	}

	// The proposal is gone either way; replace the button message.
	if callback.Message.Timestamp != "" {
		resolution := "Plan canceled."
		if model.ActionKind(action.ActionID) == model.ActionConfirm {
			resolution = "Plan confirmed."
		}
		if _, _, _, err := b.api.UpdateMessage(channelID, callback.Message.Timestamp,
			slack.MsgOptionText(resolution, false)); err != nil {
			log.Printf("Slack: updating proposal message: %v", err)
		}
	}

	b.relay(channelID, dispatched)
}

// relay reports the outcome of a dispatch: new assistant turns, or the
// reason nothing happened.
func (b *Bot) relay(channelID string, dispatched bool) {
	snap := b.sess.Snapshot()

	if !dispatched {
		switch {
		case snap.LastError != "":
			b.post(channelID, ":warning: "+snap.LastError)
		case snap.Busy:
			b.post(channelID, "Still working on the previous request, one moment.")
		case !snap.DatasetReady:
			b.post(channelID, "Share a .csv file first.")
		}
		return
	}

	if snap.LastError != "" {
		b.post(channelID, ":x: "+snap.LastError+"\n\nSay `retry` to try again.")
	}
	b.deliverNew(channelID, snap)
}

// deliverNew posts assistant turns that have not reached the channel yet.
func (b *Bot) deliverNew(channelID string, snap model.Snapshot) {
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
		b.postTurn(channelID, turn)
	}
}

// postTurn renders one assistant turn: text, optional chart image, optional
// plan-proposal buttons.
func (b *Bot) postTurn(channelID string, turn model.Turn) {
	if turn.HasActions() {
		b.postProposal(channelID, turn)
		return
	}

	if turn.Content != "" {
		b.post(channelID, turn.Content)
	}

	if turn.ImageData != "" {
		png, err := decodeImage(turn.ImageData)
		if err != nil {
			log.Printf("Slack: decoding chart image: %v", err)
			return
		}
		_, err = b.api.UploadFileV2(slack.UploadFileV2Parameters{
			Reader:   bytes.NewReader(png),
			Filename: "chart.png",
			FileSize: len(png),
			Title:    "Chart",
			Channel:  channelID,
		})
		if err != nil {
			log.Printf("Slack: uploading chart: %v", err)
		}
	}
}

// A section block's text field caps out at 3000 characters.
const maxSectionTextLength = 3000

// sectionText clamps proposal text to the Block Kit section limit.
func sectionText(text string) string {
	return model.Truncate(text, maxSectionTextLength)
}

// postProposal posts a plan-proposal turn as a Block Kit message with one
// button per action.
func (b *Bot) postProposal(channelID string, turn model.Turn) {
	text := slack.NewTextBlockObject(slack.MarkdownType, sectionText(turn.Content), false, false)
	section := slack.NewSectionBlock(text, nil, nil)

	var buttons []slack.BlockElement
	for _, a := range turn.Actions {
		label := slack.NewTextBlockObject(slack.PlainTextType, a.Label, false, false)
		btn := slack.NewButtonBlockElement(string(a.Effect.Kind), a.Effect.TurnID, label)
		if a.Variant == model.VariantPrimary {
			btn.Style = slack.StylePrimary
		}
		buttons = append(buttons, btn)
	}
	actions := slack.NewActionBlock("plan_proposal", buttons...)

	if _, _, err := b.api.PostMessage(channelID,
		slack.MsgOptionBlocks(section, actions)); err != nil {
		log.Printf("Slack: posting proposal: %v", err)
		// Fall back to plain text; the buttons are lost but the user can
		// still say "retry" or rephrase.
		b.post(channelID, turn.Content)
	}
}

// post sends a plain markdown message.
func (b *Bot) post(channelID, text string) {
	if _, _, err := b.api.PostMessage(channelID,
		slack.MsgOptionText(text, false)); err != nil {
		log.Printf("Slack: failed to post message to %s: %v", channelID, err)
	}
}

// stripMention removes the leading bot mention (<@U12345>) from a message.
func stripMention(text string) string {
	if idx := strings.Index(text, ">"); idx >= 0 && strings.HasPrefix(text, "<@") {
		text = text[idx+1:]
	}
	return strings.TrimSpace(text)
}

// decodeImage strips an optional data URL prefix and decodes base64 PNG data.
func decodeImage(data string) ([]byte, error) {
	if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	return base64.StdEncoding.DecodeString(data)
}
