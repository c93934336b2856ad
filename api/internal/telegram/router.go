package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"medist/api/internal/analysis"
	"medist/api/internal/store"
	"medist/api/internal/upload"
)

// Sender is the part of *tgbotapi.BotAPI the router uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Router struct {
	Bot      Sender
	Engines  *analysis.Engines
	Sessions *upload.Manager
	Source   store.Source
	Log      *zap.Logger

	MaxUploadBytes int64
	// Fetch downloads a Telegram file URL; nil means a plain HTTP GET.
	Fetch func(ctx context.Context, url string, limit int64) ([]byte, error)

	state chatState
}

const (
	helpText = "Send a photo or PDF of a medical report and I will summarise it.\n" +
		"Commands:\n/status – current analysis\n/reset – start over\n/patient – patient profile\n" +
		"/history – medical records\n/engine [gemini|gpt] – choose the AI engine"
	stillAnalyzingText = "⏳ Still analyzing the previous document. Wait for the result or /reset."
)

func (r *Router) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	switch {
	case msg.IsCommand():
		r.HandleCommand(msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(msg)
	case msg.Document != nil:
		r.acceptDocument(msg)
	default:
		r.send(msg.Chat.ID, helpText)
	}
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText)
	case "status":
		r.status(cid)
	case "reset":
		r.reset(cid)
	case "patient":
		r.patient(cid)
	case "history":
		r.history(cid)
	case "engine":
		r.handleEngineCommand(cid, msg.CommandArguments())
	default:
		r.send(cid, "Unknown command. /help lists what I can do.")
	}
}

// controller returns the chat's upload controller, creating it (and its
// result watcher) on first use.
func (r *Router) controller(cid int64) (*upload.Controller, error) {
	key := sessionKey(cid)
	if c, ok := r.Sessions.Get(key); ok {
		return c, nil
	}
	client, err := r.Engines.GetEngine(r.state.engine(cid))
	if err != nil {
		return nil, err
	}
	c, created := r.Sessions.CreateWith(key, client)
	if created {
		r.watch(cid, c)
	}
	return c, nil
}

// watch renders every terminal snapshot once. It stops when the session is
// dropped and the subscription closes.
func (r *Router) watch(cid int64, c *upload.Controller) {
	ch, _ := c.Subscribe()
	go func() {
		var last uint64
		for s := range ch {
			if !s.Phase.Terminal() || s.Seq == last {
				continue
			}
			last = s.Seq
			r.sendWithKeyboard(cid, RenderSnapshot(s))
		}
	}()
}

func (r *Router) status(cid int64) {
	c, err := r.controller(cid)
	if err != nil {
		r.send(cid, "❌ "+err.Error())
		return
	}
	r.send(cid, RenderSnapshot(c.State()))
}

func (r *Router) reset(cid int64) {
	if c, ok := r.Sessions.Get(sessionKey(cid)); ok {
		c.Reset()
	}
	r.send(cid, "🔄 Ready for a new document.")
}

func (r *Router) patient(cid int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := r.Source.Patient(ctx)
	if err != nil {
		r.log().Warn("patient lookup failed", zap.Int64("chat", cid), zap.Error(err))
		r.send(cid, "❌ Patient profile is unavailable.")
		return
	}
	r.send(cid, RenderPatient(p))
}

func (r *Router) history(cid int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recs, err := r.Source.Records(ctx)
	if err != nil {
		r.log().Warn("records lookup failed", zap.Int64("chat", cid), zap.Error(err))
		r.send(cid, "❌ Medical history is unavailable.")
		return
	}
	r.send(cid, RenderRecords(recs))
}

// handleEngineCommand switches the chat to another engine. The chat's
// session is replaced, so a running analysis is discarded.
//
//	/engine
//	/engine gemini
//	/engine gpt
func (r *Router) handleEngineCommand(cid int64, args string) {
	name := strings.ToLower(strings.TrimSpace(args))
	if name == "" {
		cur := "gemini"
		if c, err := r.Engines.GetEngine(r.state.engine(cid)); err == nil {
			cur = c.Engine()
		}
		r.send(cid, "Current engine: "+cur+"\nAvailable: "+strings.Join(r.Engines.Names(), " | ")+"\nUsage: /engine gemini")
		return
	}
	client, err := r.Engines.GetEngine(name)
	if err != nil {
		r.send(cid, "❌ "+err.Error())
		return
	}
	r.state.engines.Store(cid, name)
	c := r.Sessions.Replace(sessionKey(cid), client)
	r.watch(cid, c)
	r.send(cid, "✅ Engine: "+client.Engine()+".")
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.Bot.Send(msg); err != nil {
		r.log().Warn("telegram send failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

func (r *Router) sendWithKeyboard(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = resultKeyboard()
	if _, err := r.Bot.Send(msg); err != nil {
		r.log().Warn("telegram send failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}
