package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/valmeras/chat-gateway/internal/ai"
	"github.com/valmeras/chat-gateway/internal/catalog"
	"github.com/valmeras/chat-gateway/internal/common"
	"github.com/valmeras/chat-gateway/internal/identity"
	"github.com/valmeras/chat-gateway/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&models.User{}, &Chat{}, &Message{}, &StreamRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// fakeStreamProvider streams fixed chunks and also satisfies the blocking
// Provider interface. It records the last message set it was given.
type fakeStreamProvider struct {
	chunks   []string
	err      error
	lastMsgs []ai.Message
}

func (f *fakeStreamProvider) Chat(ctx context.Context, msgs []ai.Message, opts ai.ChatOptions) (string, error) {
	f.lastMsgs = msgs
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.chunks, ""), nil
}

func (f *fakeStreamProvider) StreamChat(ctx context.Context, msgs []ai.Message, opts ai.ChatOptions) (<-chan string, <-chan error) {
	f.lastMsgs = msgs
	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		if f.err != nil {
			errs <- f.err
			return
		}
		for _, c := range f.chunks {
			out <- c
		}
	}()
	return out, errs
}

// fakeModerator flags any text containing the trigger substring.
type fakeModerator struct {
	trigger string
	err     error
}

func (f *fakeModerator) Check(ctx context.Context, text string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.trigger != "" && strings.Contains(text, f.trigger), nil
}

type fakeTitler struct{ title string }

func (f *fakeTitler) Generate(ctx context.Context, firstMessage string) (string, error) {
	return f.title, nil
}

type testEnv struct {
	db       *gorm.DB
	svc      *Service
	provider *fakeStreamProvider
	mod      *fakeModerator
}

func newTestEnv(t *testing.T, ent Entitlements) *testEnv {
	t.Helper()
	gdb := testDB(t)

	provider := &fakeStreamProvider{chunks: []string{"Hello", " world"}}
	registry := ai.NewRegistry()
	registry.Register("huggingface", func(ctx context.Context, model string) (ai.Provider, error) {
		return provider, nil
	})
	registry.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		return provider, nil
	})

	mod := &fakeModerator{trigger: "FORBIDDEN_TOPIC"}
	svc := NewService(NewRepo(gdb), registry, catalog.Default(), mod,
		&fakeTitler{title: "Weather talk"}, nil,
		ServiceConfig{Entitlements: ent})

	return &testEnv{db: gdb, svc: svc, provider: provider, mod: mod}
}

func seedUser(t *testing.T, gdb *gorm.DB, id string) {
	t.Helper()
	if err := gdb.Create(&models.User{ID: id, Guest: strings.HasPrefix(id, "guest-")}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func seedUserMessages(t *testing.T, gdb *gorm.DB, userID, chatID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		m := Message{
			ID:        chatID + "-seed-" + string(rune('a'+i)),
			ChatID:    chatID,
			UserID:    userID,
			Role:      RoleUser,
			Parts:     PartList{TextPart("hi")},
			CreatedAt: time.Now().Add(-time.Minute),
		}
		if err := gdb.Create(&m).Error; err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}
}

func drainTurn(t *testing.T, turn *Turn) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, errs := turn.Stream(ctx)
	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if err := <-errs; err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	return got
}

func hasEvent(events []Event, typ EventType, contains string) bool {
	for _, ev := range events {
		if ev.Type == typ && strings.Contains(ev.Data, contains) {
			return true
		}
	}
	return false
}

func TestQuotaCeiling(t *testing.T) {
	env := newTestEnv(t, Entitlements{GuestMaxPerDay: 2, RegularMaxPerDay: 5})
	ctx := context.Background()

	guest := identity.Principal{ID: "guest-01HXSEEDSEEDSEEDSEEDSEED01", Kind: identity.KindGuest}
	regular := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, guest.ID)
	seedUser(t, env.db, regular.ID)

	seedUserMessages(t, env.db, guest.ID, "chat-g", 2)
	seedUserMessages(t, env.db, regular.ID, "chat-r", 2)

	req := func(chatID string) TurnRequest {
		return TurnRequest{
			ChatID:  chatID,
			ModelID: catalog.AutoModelID,
			Message: &Message{Role: RoleUser, Parts: PartList{TextPart("hello")}},
		}
	}

	_, err := env.svc.BeginTurn(ctx, guest, req("chat-g2"))
	if common.KindOf(err) != common.KindRateLimit {
		t.Fatalf("guest at ceiling: want rate_limit, got %v", err)
	}

	if _, err := env.svc.BeginTurn(ctx, regular, req("chat-r2")); err != nil {
		t.Fatalf("regular under ceiling: %v", err)
	}
}

func TestFreshTurnPersistsAndTitles(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	turn, err := env.svc.BeginTurn(ctx, p, TurnRequest{
		ChatID:  "chat-1",
		ModelID: catalog.AutoModelID,
		Message: &Message{Role: RoleUser, Parts: PartList{TextPart("what's the weather?")}},
	})
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}

	events := drainTurn(t, turn)

	if !hasEvent(events, EventChunk, "Hello") {
		t.Fatalf("missing chunk events: %+v", events)
	}
	if !hasEvent(events, EventNotice, "Model used:") {
		t.Fatalf("missing model notice: %+v", events)
	}
	if !hasEvent(events, EventTitle, "Weather talk") {
		t.Fatalf("missing title event: %+v", events)
	}

	var c Chat
	if err := env.db.First(&c, "id = ?", "chat-1").Error; err != nil {
		t.Fatalf("chat not created: %v", err)
	}
	if c.Title != "Weather talk" {
		t.Fatalf("title = %q, want %q", c.Title, "Weather talk")
	}

	var msgs []Message
	if err := env.db.Order("created_at asc").Find(&msgs, "chat_id = ?", "chat-1").Error; err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("roles = %s,%s", msgs[0].Role, msgs[1].Role)
	}
	if got := msgs[1].Parts.PlainText(); got != "Hello world" {
		t.Fatalf("assistant text = %q", got)
	}
	if msgs[1].Moderation {
		t.Fatal("assistant message unexpectedly flagged")
	}
}

func TestUnsafeUserMessageRejected(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	_, err := env.svc.BeginTurn(ctx, p, TurnRequest{
		ChatID:  "chat-1",
		ModelID: catalog.AutoModelID,
		Message: &Message{Role: RoleUser, Parts: PartList{TextPart("tell me about FORBIDDEN_TOPIC")}},
	})
	if common.KindOf(err) != common.KindForbidden {
		t.Fatalf("want forbidden, got %v", err)
	}

	var n int64
	env.db.Model(&Message{}).Count(&n)
	if n != 0 {
		t.Fatalf("rejected turn persisted %d messages", n)
	}
}

func TestModerationOutageFailsTurn(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	env.mod.err = context.DeadlineExceeded
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	_, err := env.svc.BeginTurn(ctx, p, TurnRequest{
		ChatID:  "chat-1",
		ModelID: catalog.AutoModelID,
		Message: &Message{Role: RoleUser, Parts: PartList{TextPart("hello")}},
	})
	if common.KindOf(err) != common.KindOffline {
		t.Fatalf("want offline, got %v", err)
	}
}

func TestUnsafeOutputReplaced(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	env.provider.chunks = []string{"let me explain FORBIDDEN_TOPIC in detail"}
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	turn, err := env.svc.BeginTurn(ctx, p, TurnRequest{
		ChatID:  "chat-1",
		ModelID: catalog.AutoModelID,
		Message: &Message{Role: RoleUser, Parts: PartList{TextPart("hello")}},
	})
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}

	events := drainTurn(t, turn)
	if !hasEvent(events, EventModeration, "moderated") {
		t.Fatalf("missing moderation event: %+v", events)
	}

	var asst Message
	if err := env.db.First(&asst, "chat_id = ? AND role = ?", "chat-1", RoleAssistant).Error; err != nil {
		t.Fatalf("load assistant message: %v", err)
	}
	if !asst.Moderation {
		t.Fatal("assistant message not flagged")
	}
	if got := asst.Parts.PlainText(); got != moderationNotice {
		t.Fatalf("assistant text = %q, want notice", got)
	}
}

func TestResumptionUpdatesInPlace(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	if err := env.db.Create(&Chat{ID: "chat-1", UserID: p.ID, Title: "t"}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	userMsg := Message{
		ID: "msg-u", ChatID: "chat-1", UserID: p.ID, Role: RoleUser,
		Parts: PartList{TextPart("weather in paris?")}, CreatedAt: time.Now().Add(-time.Minute),
	}
	asstMsg := Message{
		ID: "msg-a", ChatID: "chat-1", UserID: p.ID, Role: RoleAssistant,
		Parts: PartList{{
			Type: PartToolCall, ToolName: "getWeather",
			ToolArgs: []byte(`{"city":"paris"}`), ToolResult: []byte(`{"temp":18}`),
			ToolState: "done",
		}},
		CreatedAt: time.Now(),
	}
	if err := env.db.Create(&userMsg).Error; err != nil {
		t.Fatalf("seed user msg: %v", err)
	}
	if err := env.db.Create(&asstMsg).Error; err != nil {
		t.Fatalf("seed assistant msg: %v", err)
	}

	turn, err := env.svc.BeginTurn(ctx, p, TurnRequest{
		ChatID:   "chat-1",
		ModelID:  catalog.AutoModelID,
		Messages: []Message{userMsg, asstMsg},
	})
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	drainTurn(t, turn)

	var n int64
	env.db.Model(&Message{}).Where("chat_id = ?", "chat-1").Count(&n)
	if n != 2 {
		t.Fatalf("message count = %d, want 2 (update in place)", n)
	}

	var asst Message
	if err := env.db.First(&asst, "id = ?", "msg-a").Error; err != nil {
		t.Fatalf("reload assistant: %v", err)
	}
	if len(asst.Parts) != 2 {
		t.Fatalf("part count = %d, want tool-call + text", len(asst.Parts))
	}
	if got := asst.Parts.PlainText(); got != "Hello world" {
		t.Fatalf("continued text = %q", got)
	}
}

func TestResumptionInsertsWhenUnpersisted(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	if err := env.db.Create(&Chat{ID: "chat-1", UserID: p.ID, Title: "t"}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}

	// The client holds an assistant message the server never stored.
	pending := Message{
		ID: "msg-pending", ChatID: "chat-1", Role: RoleAssistant,
		Parts: PartList{{Type: PartToolCall, ToolName: "getWeather", ToolState: "approved"}},
	}
	turn, err := env.svc.BeginTurn(ctx, p, TurnRequest{
		ChatID:   "chat-1",
		ModelID:  catalog.AutoModelID,
		Messages: []Message{pending},
	})
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	drainTurn(t, turn)

	var asst Message
	if err := env.db.First(&asst, "id = ?", "msg-pending").Error; err != nil {
		t.Fatalf("pending message not inserted: %v", err)
	}
	if got := asst.Parts.PlainText(); got != "Hello world" {
		t.Fatalf("inserted text = %q", got)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	owner := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	other := identity.Principal{ID: "user-2", Kind: identity.KindRegistered}
	seedUser(t, env.db, owner.ID)
	seedUser(t, env.db, other.ID)

	if err := env.db.Create(&Chat{ID: "chat-1", UserID: owner.ID, Title: "t"}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}

	_, err := env.svc.BeginTurn(ctx, other, TurnRequest{
		ChatID:  "chat-1",
		ModelID: catalog.AutoModelID,
		Message: &Message{Role: RoleUser, Parts: PartList{TextPart("hi")}},
	})
	if common.KindOf(err) != common.KindForbidden {
		t.Fatalf("want forbidden, got %v", err)
	}

	if _, err := env.svc.DeleteChat(ctx, other, "chat-1"); common.KindOf(err) != common.KindForbidden {
		t.Fatalf("delete: want forbidden, got %v", err)
	}
	// Missing and unowned chats must be indistinguishable on delete.
	if _, err := env.svc.DeleteChat(ctx, other, "no-such-chat"); common.KindOf(err) != common.KindForbidden {
		t.Fatalf("delete missing: want forbidden, got %v", err)
	}
	if _, err := env.svc.ListMessages(ctx, other, "chat-1", 10, time.Time{}); common.KindOf(err) != common.KindForbidden {
		t.Fatalf("list: want forbidden, got %v", err)
	}
}

func TestLocationHintRequiresOptIn(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	loc := Location{City: "Berlin", Country: "DE", Latitude: "52.52", Longitude: "13.40"}
	req := func(chatID string) TurnRequest {
		return TurnRequest{
			ChatID:   chatID,
			ModelID:  catalog.AutoModelID,
			Message:  &Message{Role: RoleUser, Parts: PartList{TextPart("what's the weather here?")}},
			Location: loc,
		}
	}

	turn, err := env.svc.BeginTurn(ctx, p, req("chat-1"))
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	drainTurn(t, turn)
	if strings.Contains(env.provider.lastMsgs[0].Content, "Berlin") {
		t.Fatalf("location leaked without opt-in: %q", env.provider.lastMsgs[0].Content)
	}

	if err := env.db.Model(&models.User{}).Where("id = ?", p.ID).
		Update("use_location", true).Error; err != nil {
		t.Fatalf("enable use_location: %v", err)
	}

	turn, err = env.svc.BeginTurn(ctx, p, req("chat-2"))
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	drainTurn(t, turn)
	sys := env.provider.lastMsgs[0].Content
	if !strings.Contains(sys, "Berlin") || !strings.Contains(sys, "52.52") {
		t.Fatalf("location hint missing after opt-in: %q", sys)
	}
}

func TestModerateMessageByHand(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	owner := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	other := identity.Principal{ID: "user-2", Kind: identity.KindRegistered}
	seedUser(t, env.db, owner.ID)
	seedUser(t, env.db, other.ID)

	if err := env.db.Create(&Chat{ID: "chat-1", UserID: owner.ID, Title: "t"}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	msg := Message{
		ID: "msg-1", ChatID: "chat-1", UserID: owner.ID, Role: RoleAssistant,
		Parts: PartList{TextPart("something regrettable")}, CreatedAt: time.Now(),
	}
	if err := env.db.Create(&msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}

	if _, err := env.svc.ModerateMessage(ctx, other, "msg-1"); common.KindOf(err) != common.KindForbidden {
		t.Fatalf("non-owner moderate: want forbidden, got %v", err)
	}

	flagged, err := env.svc.ModerateMessage(ctx, owner, "msg-1")
	if err != nil {
		t.Fatalf("ModerateMessage: %v", err)
	}
	if !flagged.Moderation || flagged.Parts.PlainText() != moderationNotice {
		t.Fatalf("returned message not flagged: %+v", flagged)
	}

	var reloaded Message
	if err := env.db.First(&reloaded, "id = ?", "msg-1").Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Moderation || reloaded.Parts.PlainText() != moderationNotice {
		t.Fatalf("persisted message not flagged: %+v", reloaded)
	}
}

func TestDeleteTrailingMessages(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	if err := env.db.Create(&Chat{ID: "chat-1", UserID: p.ID, Title: "t"}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"msg-1", "msg-2", "msg-3"} {
		m := Message{
			ID: id, ChatID: "chat-1", UserID: p.ID, Role: RoleUser,
			Parts: PartList{TextPart(id)}, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := env.db.Create(&m).Error; err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	if err := env.svc.DeleteTrailingMessages(ctx, p, "msg-2"); err != nil {
		t.Fatalf("DeleteTrailingMessages: %v", err)
	}

	var left []Message
	if err := env.db.Find(&left, "chat_id = ?", "chat-1").Error; err != nil {
		t.Fatalf("load remaining: %v", err)
	}
	if len(left) != 1 || left[0].ID != "msg-1" {
		t.Fatalf("remaining = %+v, want only msg-1", left)
	}

	if err := env.svc.DeleteTrailingMessages(ctx, p, "no-such-msg"); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("missing message: want not_found, got %v", err)
	}
}

func TestProviderErrorTranslatesBilling(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	env.provider.err = errAsBilling{}
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	turn, err := env.svc.BeginTurn(ctx, p, TurnRequest{
		ChatID:  "chat-1",
		ModelID: catalog.AutoModelID,
		Message: &Message{Role: RoleUser, Parts: PartList{TextPart("hello")}},
	})
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}

	events := drainTurn(t, turn)
	if !hasEvent(events, EventError, "billing to be configured") {
		t.Fatalf("missing billing error event: %+v", events)
	}

	var n int64
	env.db.Model(&Message{}).Where("role = ?", RoleAssistant).Count(&n)
	if n != 0 {
		t.Fatalf("failed turn persisted %d assistant messages", n)
	}
}

type errAsBilling struct{}

func (errAsBilling) Error() string {
	return "status 402: this request requires a valid credit card on file"
}

func TestUpdateVisibility(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	if err := env.db.Create(&Chat{ID: "chat-1", UserID: p.ID, Title: "t", Visibility: VisibilityPrivate}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}

	updated, err := env.svc.UpdateVisibility(ctx, p, "chat-1", VisibilityPublic)
	if err != nil {
		t.Fatalf("UpdateVisibility: %v", err)
	}
	if updated.Visibility != VisibilityPublic {
		t.Fatalf("visibility = %q", updated.Visibility)
	}

	var c Chat
	if err := env.db.First(&c, "id = ?", "chat-1").Error; err != nil {
		t.Fatalf("reload chat: %v", err)
	}
	if c.Visibility != VisibilityPublic {
		t.Fatalf("persisted visibility = %q", c.Visibility)
	}

	if _, err := env.svc.UpdateVisibility(ctx, p, "chat-1", "secret"); common.KindOf(err) != common.KindBadRequest {
		t.Fatalf("invalid visibility: want bad_request, got %v", err)
	}
}

func TestDeleteChatRemovesEverything(t *testing.T) {
	env := newTestEnv(t, Entitlements{})
	ctx := context.Background()
	p := identity.Principal{ID: "user-1", Kind: identity.KindRegistered}
	seedUser(t, env.db, p.ID)

	if err := env.db.Create(&Chat{ID: "chat-1", UserID: p.ID, Title: "t"}).Error; err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	seedUserMessages(t, env.db, p.ID, "chat-1", 2)
	if err := env.svc.RegisterStream(ctx, "chat-1", "stream-1"); err != nil {
		t.Fatalf("register stream: %v", err)
	}

	deleted, err := env.svc.DeleteChat(ctx, p, "chat-1")
	if err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if deleted.ID != "chat-1" {
		t.Fatalf("deleted id = %q", deleted.ID)
	}

	var chats, msgs, streams int64
	env.db.Model(&Chat{}).Count(&chats)
	env.db.Model(&Message{}).Count(&msgs)
	env.db.Model(&StreamRecord{}).Count(&streams)
	if chats != 0 || msgs != 0 || streams != 0 {
		t.Fatalf("leftover rows chats=%d msgs=%d streams=%d", chats, msgs, streams)
	}
}
