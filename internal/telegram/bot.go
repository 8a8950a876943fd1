package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"

	"habitline/internal/config"
	"habitline/internal/domain"
	"habitline/internal/engine"
)

// Bot runs the companion Telegram bot: it opens the Mini App via a keyboard
// button, answers a few read-only commands, and sends the daily reminder.
type Bot struct {
	api    *tgbotapi.BotAPI
	engine engine.Engine
	cfg    *config.Config
	cron   *cron.Cron
}

func NewBot(e engine.Engine, cfg *config.Config) (*Bot, error) {
	if cfg.Telegram.BotToken == "" {
		return nil, fmt.Errorf("telegram.bot_token not configured")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Printf("[info] bot authorized on account %s", api.Self.UserName)
	return &Bot{
		api:    api,
		engine: e,
		cfg:    cfg,
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
	}, nil
}

// Notifier returns a Notifier sharing this bot's API client.
func (b *Bot) Notifier() Notifier {
	return Notifier{API: b.api}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.cfg.Reminder.Time != "" {
		if err := b.scheduleReminder(ctx); err != nil {
			return err
		}
		b.cron.Start()
		defer func() {
			stop := b.cron.Stop()
			<-stop.Done()
		}()
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) scheduleReminder(ctx context.Context) error {
	var h, m int
	if _, err := fmt.Sscanf(b.cfg.Reminder.Time, "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("invalid reminder.time %q: %w", b.cfg.Reminder.Time, err)
	}
	spec := fmt.Sprintf("0 %d %d * * *", m, h)
	_, err := b.cron.AddFunc(spec, func() { b.sendReminders(ctx) })
	return err
}

func (b *Bot) sendReminders(ctx context.Context) {
	users, err := b.engine.Repo.ListUsers(ctx)
	if err != nil {
		log.Printf("[warn] reminder: list users: %v", err)
		return
	}
	for _, u := range users {
		dash, err := b.engine.Dashboard(ctx, u.ID)
		if err != nil {
			log.Printf("[warn] reminder: dashboard for user %d: %v", u.ID, err)
			continue
		}
		if dash.OpenDay != nil {
			continue
		}
		b.Notifier().Send(u.TelegramUserID, "No day session is open yet. Time to start your day!")
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.engine.GetOrCreateUser(ctx, profileFromMessage(msg))
	if err != nil {
		log.Printf("[warn] resolve user %d: %v", msg.From.ID, err)
		return
	}
	switch msg.Command() {
	case "start", "help":
		b.sendStart(msg.Chat.ID)
	case "today":
		b.sendToday(ctx, msg.Chat.ID, user.ID)
	case "week":
		b.sendWeek(ctx, msg.Chat.ID, user.ID)
	default:
		b.sendStart(msg.Chat.ID)
	}
}

func profileFromMessage(msg *tgbotapi.Message) engine.TelegramProfile {
	p := engine.TelegramProfile{TelegramUserID: msg.From.ID}
	if msg.From.UserName != "" {
		p.Username = &msg.From.UserName
	}
	if msg.From.FirstName != "" {
		p.FirstName = &msg.From.FirstName
	}
	if msg.From.LastName != "" {
		p.LastName = &msg.From.LastName
	}
	return p
}

func (b *Bot) sendStart(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Track your day and week, and settle what slipped. Open the app to manage tasks and sessions.")
	if b.cfg.Telegram.MiniAppURL != "" {
		msg.ReplyMarkup = tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(tgbotapi.KeyboardButton{
				Text:   "Open Habitline",
				WebApp: &tgbotapi.WebAppInfo{URL: b.cfg.Telegram.MiniAppURL},
			}),
		)
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("[warn] send start message: %v", err)
	}
}

func (b *Bot) sendToday(ctx context.Context, chatID, userID int64) {
	b.sendInstanceList(ctx, chatID, userID, engine.InstancesToday, "No day session is open.")
}

func (b *Bot) sendWeek(ctx context.Context, chatID, userID int64) {
	b.sendInstanceList(ctx, chatID, userID, engine.InstancesWeek, "No week session is open.")
}

func (b *Bot) sendInstanceList(ctx context.Context, chatID, userID int64, scope engine.InstanceScope, empty string) {
	instances, err := b.engine.ListInstances(ctx, userID, scope)
	if err != nil {
		log.Printf("[warn] list instances: %v", err)
		return
	}
	if len(instances) == 0 {
		b.Notifier().Send(chatID, empty)
		return
	}
	var sb strings.Builder
	for _, in := range instances {
		sb.WriteString(statusIcon(in.Status))
		sb.WriteString(" ")
		sb.WriteString(in.TaskTitle)
		sb.WriteString("\n")
	}
	b.Notifier().Send(chatID, sb.String())
}

func statusIcon(s domain.InstanceStatus) string {
	switch s {
	case domain.StatusDone:
		return "✅"
	case domain.StatusCanceled:
		return "↩️"
	case domain.StatusFailed:
		return "❌"
	}
	return "▫️"
}
