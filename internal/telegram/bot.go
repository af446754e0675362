// Package telegram is the Telegram transport: it turns updates into dialogue
// events and renders the machine's actions back as messages and keyboards.
package telegram

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	. "github.com/roelfdiedericks/voxledger/internal/metrics"
	"github.com/roelfdiedericks/voxledger/internal/session"
)

// Handler is implemented by *session.Machine.
type Handler interface {
	HandleEvent(ctx context.Context, id string, ev session.Event) session.Action
}

// CostReporter is implemented by *ledger.Ledger.
type CostReporter interface {
	Stats() ledger.Stats
	WeeklyCosts() []ledger.DayCost
}

// Bot represents the Telegram bot
type Bot struct {
	bot        *tele.Bot
	handler    Handler
	costs      CostReporter
	config     Config
	allowed    map[int64]bool
	downloader *Downloader

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the bot. Downloads land in workDir. SetHandler must be called
// before Start.
func New(cfg Config, workDir string, costs CostReporter) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	poll := time.Duration(cfg.PollTimeoutSeconds) * time.Second
	if poll <= 0 {
		poll = 10 * time.Second
	}
	pref := tele.Settings{
		URL:    cfg.apiURL(),
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: poll},
		OnError: func(err error, c tele.Context) {
			L_error("telegram: handler error", "error", err)
		},
	}

	L_debug("telegram: creating bot", "tokenLength", len(cfg.BotToken))
	bot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	L_debug("telegram: bot created", "username", bot.Me.Username, "id", bot.Me.ID)

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		bot:     bot,
		costs:   costs,
		config:  cfg,
		allowed: make(map[int64]bool, len(cfg.AllowedUsers)),
		downloader: NewDownloader(bot, cfg.BotToken, cfg.apiURL(), workDir,
			time.Duration(cfg.DownloadTimeoutSeconds)*time.Second),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, id := range cfg.AllowedUsers {
		b.allowed[id] = true
	}

	b.setupHandlers()
	L_debug("telegram: handlers registered")
	return b, nil
}

// Downloader returns the file fetcher bound to this bot.
func (b *Bot) Downloader() *Downloader {
	return b.downloader
}

// SetHandler attaches the dialogue machine.
func (b *Bot) SetHandler(h Handler) {
	b.handler = h
}

func (b *Bot) setupHandlers() {
	b.bot.Use(b.authorize)

	b.bot.Handle("/start", b.handleMenu)
	b.bot.Handle("/menu", b.handleMenu)
	b.bot.Handle("/cancel", func(c tele.Context) error {
		return b.dispatch(c, session.Event{Kind: session.EventCancel, Sender: senderName(c.Sender())})
	})
	b.bot.Handle("/help", func(c tele.Context) error {
		return b.sendFormatted(c.Chat(), helpText)
	})
	b.bot.Handle("/costs", func(c tele.Context) error {
		if b.costs == nil {
			return c.Send("Cost tracking is not enabled.")
		}
		return b.sendFormatted(c.Chat(), costReport(b.costs.Stats(), b.costs.WeeklyCosts()))
	})

	for _, endpoint := range []string{tele.OnText, tele.OnVoice, tele.OnAudio, tele.OnPhoto, tele.OnVideo, tele.OnDocument} {
		b.bot.Handle(endpoint, b.handleMessage)
	}
	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// authorize drops updates from users outside the allow list.
func (b *Bot) authorize(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if len(b.allowed) == 0 {
			return next(c)
		}
		sender := c.Sender()
		if sender == nil || !b.allowed[sender.ID] {
			if sender != nil {
				L_warn("telegram: unknown user ignored", "userID", sender.ID, "senderName", senderName(sender))
			}
			MetricFailWithReason("telegram", "update", "unauthorized")
			return nil
		}
		return next(c)
	}
}

func (b *Bot) handleMenu(c tele.Context) error {
	return b.dispatch(c, session.Event{Kind: session.EventSelect, Choice: session.ChoiceMenu, Sender: senderName(c.Sender())})
}

func (b *Bot) handleMessage(c tele.Context) error {
	msg := c.Message()
	if msg == nil {
		return nil
	}
	if c.Chat().Type != tele.ChatPrivate {
		L_debug("telegram: ignoring group message", "chatID", c.Chat().ID)
		return nil
	}

	ev, ok := messageEvent(msg)
	if !ok {
		L_debug("telegram: ignoring unsupported message", "chatID", c.Chat().ID)
		return nil
	}
	if ev.Kind == session.EventAudio {
		_ = c.Notify(tele.Typing)
	}
	return b.dispatch(c, ev)
}

func (b *Bot) handleCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	_ = c.Respond()
	return b.dispatch(c, session.Event{Kind: session.EventSelect, Choice: cb.Data, Sender: senderName(c.Sender())})
}

// dispatch runs one event through the machine and sends the result.
// Updates are handled concurrently, so a long transcription in one chat does
// not hold up the others.
func (b *Bot) dispatch(c tele.Context, ev session.Event) error {
	if b.handler == nil {
		return c.Send("Not ready yet, please try again in a moment.")
	}

	start := time.Now()
	id := sessionID(c.Chat())
	L_debug("telegram: event received", "chatID", id, "kind", ev.Kind)

	act := b.handler.HandleEvent(b.ctx, id, ev)
	MetricSince("telegram", "dispatch", start)

	text, markup := renderAction(act)
	var err error
	if markup != nil {
		_, err = b.bot.Send(c.Chat(), text, markup)
	} else {
		_, err = b.bot.Send(c.Chat(), text)
	}
	if err != nil {
		L_error("telegram: failed to send reply", "chatID", id, "error", err)
		MetricFailWithReason("telegram", "send", "error")
		return nil
	}
	MetricSuccess("telegram", "send")
	return nil
}

// sendFormatted sends markdown as HTML, falling back to plain text.
func (b *Bot) sendFormatted(chat *tele.Chat, markdown string) error {
	formatted := truncate(FormatMessage(markdown), MessageLimit)
	if _, err := b.bot.Send(chat, formatted, &tele.SendOptions{ParseMode: tele.ModeHTML}); err != nil {
		L_debug("telegram: HTML send failed, falling back to plain text", "error", err)
		_, err = b.bot.Send(chat, truncate(markdown, MessageLimit))
		return err
	}
	return nil
}

// Start starts the bot polling
func (b *Bot) Start() {
	L_info("telegram: starting bot", "username", b.bot.Me.Username)
	go b.bot.Start()
}

// Stop stops polling and cancels in-flight handlers.
func (b *Bot) Stop() {
	L_info("telegram: stopping bot")
	b.cancel()
	b.bot.Stop()
}
