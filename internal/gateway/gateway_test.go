package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nidhogg/aibrain/internal/command"
	"github.com/nidhogg/aibrain/internal/session"
	"github.com/nidhogg/aibrain/internal/workflow"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform   string
	connectErr error
	handler    MessageHandler

	mu     sync.Mutex
	sent   []*OutboundMessage
	closed bool
}

func (f *fakeAdapter) Platform() string { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error {
	return f.connectErr
}
func (f *fakeAdapter) OnMessage(h MessageHandler) { f.handler = h }
func (f *fakeAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeAdapter) Status() AdapterStatus {
	return AdapterStatus{Platform: f.platform, Connected: f.connectErr == nil}
}
func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

func (f *fakeAdapter) messages() []*OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*OutboundMessage(nil), f.sent...)
}

type fakeProcessor struct {
	mu   sync.Mutex
	reqs []workflow.Request
}

func (p *fakeProcessor) Process(_ context.Context, req workflow.Request) *workflow.Result {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return &workflow.Result{Response: "echo: " + req.Message, Agent: "assistant", SessionID: req.SessionID}
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) bool { return false }

func TestGatewayRegisterAndSend(t *testing.T) {
	g := NewGateway(zap.NewNop())
	slackA := &fakeAdapter{platform: "slack"}
	discordA := &fakeAdapter{platform: "discord", connectErr: errors.New("bad token")}
	g.Register(slackA)
	g.Register(discordA)

	if n := g.ConnectAll(context.Background()); n != 1 {
		t.Errorf("expected 1 connected adapter, got %d", n)
	}
	if got := g.Adapters(); len(got) != 2 || got[0] != "discord" || got[1] != "slack" {
		t.Errorf("unexpected adapters: %v", got)
	}

	if err := g.Notify(context.Background(), "slack", "C1", "hello"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	sent := slackA.messages()
	if len(sent) != 1 || sent[0].ChannelID != "C1" || sent[0].Content != "hello" {
		t.Errorf("unexpected sent messages: %+v", sent)
	}
	if err := g.Send(context.Background(), &OutboundMessage{Platform: "telegram"}); err == nil {
		t.Error("expected error for unknown platform")
	}

	statuses := g.StatusAll()
	if len(statuses) != 2 || statuses[0].Platform != "discord" || statuses[0].Connected {
		t.Errorf("unexpected statuses: %+v", statuses)
	}

	g.Close()
	if !slackA.closed || !discordA.closed {
		t.Error("expected all adapters closed")
	}
}

func TestGatewayHandlerFanIn(t *testing.T) {
	g := NewGateway(zap.NewNop())
	a := &fakeAdapter{platform: "slack"}
	g.Register(a)

	var got *InboundMessage
	g.SetHandler(func(msg *InboundMessage) { got = msg })
	a.handler(&InboundMessage{Platform: "slack", Content: "hi"})
	if got == nil || got.Content != "hi" {
		t.Errorf("handler not invoked: %+v", got)
	}
}

func TestSplitMessage(t *testing.T) {
	if chunks := splitMessage("short", 10); len(chunks) != 1 || chunks[0] != "short" {
		t.Errorf("unexpected chunks: %v", chunks)
	}
	text := strings.Repeat("é", 25)
	chunks := splitMessage(text, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble")
	}
	if len([]rune(chunks[2])) != 5 {
		t.Errorf("expected 5 runes in last chunk, got %d", len([]rune(chunks[2])))
	}
}

func TestBridgeProcessesMessage(t *testing.T) {
	out := &fakeAdapter{platform: "slack"}
	proc := &fakeProcessor{}
	sessions := session.NewMemory()
	b := NewBridge(proc, nil, sessions, nil, out, zap.NewNop())

	b.handle(context.Background(), &InboundMessage{
		Platform: "slack", ChannelID: "C42", UserID: "U1", UserName: "ana",
		Content: "what's up", ReplyTo: "171.5",
	})

	if len(proc.reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(proc.reqs))
	}
	req := proc.reqs[0]
	if req.SessionID != "slack_C42" || req.Interface != "slack" || req.UserID != "U1" {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.Context["user_name"] != "ana" || req.Context["channel_id"] != "C42" {
		t.Errorf("unexpected context: %v", req.Context)
	}

	sent := out.messages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(sent))
	}
	if sent[0].Content != "echo: what's up" || sent[0].Agent != "assistant" || sent[0].ReplyTo != "171.5" {
		t.Errorf("unexpected reply: %+v", sent[0])
	}
	if n, _ := sessions.Count(context.Background()); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
}

func TestBridgeDispatchesCommands(t *testing.T) {
	out := &fakeAdapter{platform: "discord"}
	proc := &fakeProcessor{}
	reg := command.NewRegistry()
	var gotCC *command.CommandContext
	reg.Register(&command.Command{
		Name: "ping",
		Handler: func(_ context.Context, args string, cc *command.CommandContext) (*command.CommandResult, error) {
			gotCC = cc
			return &command.CommandResult{Content: "pong " + args}, nil
		},
	})
	b := NewBridge(proc, reg, nil, denyAll{}, out, zap.NewNop())

	b.handle(context.Background(), &InboundMessage{Platform: "discord", ChannelID: "9", UserID: "u", Content: "/ping now"})

	if len(proc.reqs) != 0 {
		t.Error("commands must not reach the workflow")
	}
	sent := out.messages()
	if len(sent) != 1 || sent[0].Content != "pong now" {
		t.Errorf("unexpected reply: %+v", sent)
	}
	if gotCC == nil || gotCC.SessionID != "discord_9" || gotCC.Platform != "discord" {
		t.Errorf("unexpected command context: %+v", gotCC)
	}
}

func TestBridgeRateLimited(t *testing.T) {
	out := &fakeAdapter{platform: "telegram"}
	proc := &fakeProcessor{}
	b := NewBridge(proc, nil, nil, denyAll{}, out, zap.NewNop())

	b.handle(context.Background(), &InboundMessage{Platform: "telegram", ChannelID: "1", UserID: "2", Content: "hi"})

	if len(proc.reqs) != 0 {
		t.Error("rate limited message reached the workflow")
	}
	sent := out.messages()
	if len(sent) != 1 || sent[0].Content != rateLimitedText {
		t.Errorf("unexpected reply: %+v", sent)
	}
}

func TestBridgeHandleAsync(t *testing.T) {
	out := &fakeAdapter{platform: "slack"}
	b := NewBridge(&fakeProcessor{}, nil, nil, nil, out, zap.NewNop())
	b.Handle(&InboundMessage{Platform: "slack", ChannelID: "C", UserID: "U", Content: "hello"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(out.messages()) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("reply not sent")
}

func TestTelegramToInbound(t *testing.T) {
	update := tgbotapi.Update{
		UpdateID: 7,
		Message: &tgbotapi.Message{
			MessageID: 12,
			From:      &tgbotapi.User{ID: 99, FirstName: "Lee"},
			Chat:      &tgbotapi.Chat{ID: -100200},
			Date:      1700000000,
			Text:      "hello bot",
		},
	}
	msg := toInbound(update)
	if msg == nil {
		t.Fatal("expected message")
	}
	if msg.ChannelID != "-100200" || msg.UserID != "99" || msg.UserName != "Lee" || msg.ReplyTo != "12" {
		t.Errorf("unexpected inbound: %+v", msg)
	}

	update.Message.Text = ""
	if toInbound(update) != nil {
		t.Error("expected nil for message without text")
	}
	if toInbound(tgbotapi.Update{}) != nil {
		t.Error("expected nil for update without message")
	}
}
