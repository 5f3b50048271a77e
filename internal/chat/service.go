package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/valmeras/chat-gateway/internal/ai"
	"github.com/valmeras/chat-gateway/internal/catalog"
	"github.com/valmeras/chat-gateway/internal/common"
	"github.com/valmeras/chat-gateway/internal/identity"
)

const (
	quotaWindow      = 24 * time.Hour
	titleTimeout     = 30 * time.Second
	attachmentLimit  = 10 << 20
	moderationNotice = "This message was moderated: the content was judged inappropriate."
)

// SafetyChecker is the binary classifier applied to inbound and outbound
// text. Implemented by ai.Moderator.
type SafetyChecker interface {
	Check(ctx context.Context, text string) (unsafe bool, err error)
}

// TitleGenerator produces a chat title from the first user message.
// Implemented by ai.Titler.
type TitleGenerator interface {
	Generate(ctx context.Context, firstMessage string) (string, error)
}

// EventPublisher is the fire-and-forget observability sink. Implemented
// by the RabbitMQ publisher; may be nil.
type EventPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// SinkEvent is what gets published to the event sink.
type SinkEvent struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// Entitlements are the per-principal-kind daily message ceilings.
type Entitlements struct {
	GuestMaxPerDay   int
	RegularMaxPerDay int
}

func (e Entitlements) limitFor(kind identity.Kind) int {
	if kind == identity.KindRegistered {
		return e.RegularMaxPerDay
	}
	return e.GuestMaxPerDay
}

type ServiceConfig struct {
	ContextWindowSize int
	Entitlements      Entitlements
}

type Service struct {
	repo              *Repo
	registry          *ai.Registry
	catalog           *catalog.Catalog
	moderator         SafetyChecker
	titler            TitleGenerator
	events            EventPublisher
	attachments       *http.Client
	contextWindowSize int
	ent               Entitlements
}

func NewService(repo *Repo, registry *ai.Registry, cat *catalog.Catalog,
	moderator SafetyChecker, titler TitleGenerator, events EventPublisher,
	cfg ServiceConfig) *Service {

	windowSize := cfg.ContextWindowSize
	if windowSize <= 0 || windowSize > 100 {
		windowSize = 20
	}
	ent := cfg.Entitlements
	if ent.GuestMaxPerDay <= 0 {
		ent.GuestMaxPerDay = 20
	}
	if ent.RegularMaxPerDay <= 0 {
		ent.RegularMaxPerDay = 100
	}

	return &Service{
		repo:              repo,
		registry:          registry,
		catalog:           cat,
		moderator:         moderator,
		titler:            titler,
		events:            events,
		attachments:       &http.Client{Timeout: 15 * time.Second},
		contextWindowSize: windowSize,
		ent:               ent,
	}
}

type EventType string

const (
	EventChunk      EventType = "chunk"
	EventNotice     EventType = "notice"
	EventTitle      EventType = "title"
	EventModeration EventType = "moderation"
	EventError      EventType = "error"
)

// Event is one element of the outgoing turn stream.
type Event struct {
	Type EventType
	Data string
}

// Location is the request's geo hint, derived from proxy headers. It only
// reaches the model when the user has opted in.
type Location struct {
	City      string
	Country   string
	Latitude  string
	Longitude string
}

func (l Location) empty() bool {
	return l.City == "" && l.Country == "" && l.Latitude == "" && l.Longitude == ""
}

// TurnRequest is the sum of the two entry shapes: Message set means a
// fresh user turn, Messages set means a tool-approval resumption carrying
// the full conversation the client already holds.
type TurnRequest struct {
	ChatID     string
	Visibility string
	ModelID    string
	Message    *Message
	Messages   []Message
	Location   Location
}

func (r TurnRequest) resumption() bool { return r.Message == nil }

// Turn is a validated, ready-to-stream chat turn. All pre-stream failures
// (quota, ownership, moderation gate, model selection, provider config)
// happen in BeginTurn so the handler can still answer with a JSON error.
type Turn struct {
	svc            *Service
	principal      identity.Principal
	chatID         string
	resumption     bool
	uiMessages     []Message
	selection      catalog.Selection
	provider       ai.Provider
	supportsTools  bool
	noVisionNotice string
	titleCh        <-chan string
	customPrompt   string
	location       *Location
}

// ChatID identifies the chat this turn belongs to.
func (t *Turn) ChatID() string { return t.chatID }

func (s *Service) BeginTurn(ctx context.Context, p identity.Principal, req TurnRequest) (*Turn, error) {
	if req.ChatID == "" {
		return nil, common.E(common.KindBadRequest, "api", "chat id is required")
	}
	if (req.Message == nil) == (len(req.Messages) == 0) {
		return nil, common.E(common.KindBadRequest, "api", "exactly one of message or messages is required")
	}

	if err := s.checkQuota(ctx, p); err != nil {
		return nil, err
	}

	t := &Turn{svc: s, principal: p, chatID: req.ChatID, resumption: req.resumption()}

	existing, err := s.repo.GetChatByID(ctx, req.ChatID)
	switch {
	case err == nil:
		if existing.UserID != p.ID {
			return nil, common.E(common.KindForbidden, "chat", "you do not own this chat")
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if t.resumption {
			return nil, common.E(common.KindNotFound, "chat", "chat not found")
		}
		if req.Message.Role != RoleUser {
			return nil, common.E(common.KindBadRequest, "api", "a new chat must start with a user message")
		}
		visibility := req.Visibility
		if visibility == "" {
			visibility = VisibilityPrivate
		}
		if err := s.repo.CreateChat(ctx, &Chat{
			ID:         req.ChatID,
			UserID:     p.ID,
			Title:      PlaceholderTitle,
			Visibility: visibility,
		}); err != nil {
			return nil, err
		}
		t.titleCh = s.generateTitleAsync(req.Message.Parts.PlainText())
	default:
		return nil, err
	}

	if user, uerr := s.repo.GetUser(ctx, p.ID); uerr == nil {
		t.customPrompt = user.CustomInstructions
		if user.UseLocation && !req.Location.empty() {
			loc := req.Location
			t.location = &loc
		}
	}

	if t.resumption {
		// The client resubmits the whole conversation; it was already
		// moderated on its original turns.
		t.uiMessages = req.Messages
	} else {
		unsafe, merr := s.moderator.Check(ctx, req.Message.Parts.PlainText())
		if merr != nil {
			log.Printf("[BeginTurn] moderation check failed chat=%s err=%v", req.ChatID, merr)
			return nil, common.E(common.KindOffline, "chat", "moderation service unavailable")
		}
		if unsafe {
			return nil, common.E(common.KindForbidden, "content", "message rejected by moderation")
		}

		history, herr := s.repo.ListMessagesByChat(ctx, req.ChatID)
		if herr != nil {
			return nil, herr
		}
		if n := len(history); n > s.contextWindowSize {
			history = history[n-s.contextWindowSize:]
		}

		um := *req.Message
		if um.ID == "" {
			um.ID = uuid.NewString()
		}
		um.ChatID = req.ChatID
		um.UserID = p.ID
		um.Role = RoleUser
		um.Moderation = false
		um.CreatedAt = time.Now()
		if err := s.repo.InsertMessage(ctx, &um); err != nil {
			return nil, err
		}
		t.uiMessages = append(history, um)
	}

	hasImages := false
	for _, m := range t.uiMessages {
		if m.Parts.HasImage() {
			hasImages = true
			break
		}
	}

	sel, serr := s.catalog.Select(req.ModelID, hasImages)
	if errors.Is(serr, catalog.ErrNoVisionModel) {
		t.noVisionNotice = fmt.Sprintf(
			"No vision-capable model is available to process images (requested %q).", req.ModelID)
		return t, nil
	}
	if serr != nil {
		return nil, serr
	}
	t.selection = sel
	t.supportsTools = sel.Model.SupportsTools

	provider, perr := s.registry.Get(ctx, sel.Model.Provider, sel.Model.ID)
	if perr != nil {
		log.Printf("[BeginTurn] provider unavailable model=%s err=%v", sel.Model.ID, perr)
		return nil, common.E(common.KindBadRequest, "api", "model provider is not configured")
	}
	t.provider = provider

	return t, nil
}

func (s *Service) checkQuota(ctx context.Context, p identity.Principal) error {
	n, err := s.repo.CountRecentUserMessages(ctx, p.ID, quotaWindow)
	if err != nil {
		return err
	}
	if n >= int64(s.ent.limitFor(p.Kind)) {
		return common.E(common.KindRateLimit, "chat", "daily message limit reached")
	}
	return nil
}

// generateTitleAsync races the main stream; its result is merged into the
// outgoing events whenever it resolves. Failure keeps the placeholder.
func (s *Service) generateTitleAsync(firstMessage string) <-chan string {
	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()
		title, err := s.titler.Generate(ctx, firstMessage)
		if err != nil {
			log.Printf("[chat] title generation failed err=%v", err)
			return
		}
		if title != "" {
			ch <- title
		}
	}()
	return ch
}

// Stream runs the model invocation and returns the event stream plus a
// channel for internal failures. Both channels close when the turn ends.
func (t *Turn) Stream(ctx context.Context) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errs := make(chan error, 1)
	go t.run(ctx, events, errs)
	return events, errs
}

func (t *Turn) run(ctx context.Context, events chan<- Event, errs chan<- error) {
	defer close(events)
	defer close(errs)
	s := t.svc

	if t.noVisionNotice != "" {
		events <- Event{Type: EventNotice, Data: t.noVisionNotice}
		return
	}

	for _, n := range t.selection.Notices {
		events <- Event{Type: EventNotice, Data: n}
	}
	events <- Event{Type: EventNotice, Data: "Model used: " + t.selection.Model.ID}

	s.inlineAttachments(ctx, t.uiMessages)

	providerMsgs := make([]ai.Message, 0, len(t.uiMessages)+1)
	providerMsgs = append(providerMsgs, ai.Message{
		Role:    ai.RoleSystem,
		Content: systemPrompt(t.supportsTools, t.customPrompt, t.location),
	})
	for _, m := range t.uiMessages {
		providerMsgs = append(providerMsgs, toProviderMessage(m))
	}

	opts := ai.ChatOptions{}
	if t.supportsTools {
		opts.Tools = turnTools
	}

	titleCh := t.titleCh
	deliverTitle := func(title string) {
		events <- Event{Type: EventTitle, Data: title}
		if err := s.repo.UpdateChatTitle(ctx, t.chatID, title); err != nil {
			log.Printf("[chat] title update failed chat=%s err=%v", t.chatID, err)
		}
	}

	var full strings.Builder
	if sp, ok := t.provider.(ai.StreamProvider); ok {
		chunks, perrs := sp.StreamChat(ctx, providerMsgs, opts)
		for chunks != nil {
			select {
			case c, open := <-chunks:
				if !open {
					chunks = nil
					continue
				}
				full.WriteString(c)
				events <- Event{Type: EventChunk, Data: c}
			case title, open := <-titleCh:
				titleCh = nil
				if open {
					deliverTitle(title)
				}
			case <-ctx.Done():
				return
			}
		}
		select {
		case err := <-perrs:
			if err != nil {
				t.emitProviderError(events, err)
				return
			}
		default:
		}
	} else {
		reply, err := t.provider.Chat(ctx, providerMsgs, opts)
		if err != nil {
			t.emitProviderError(events, err)
			return
		}
		full.WriteString(reply)
		events <- Event{Type: EventChunk, Data: reply}
	}

	// The full output must exist before the post-hoc check runs; the
	// client has already seen the raw tokens. Accepted trade-off.
	reply := full.String()
	unsafe, err := s.moderator.Check(ctx, reply)
	if err != nil {
		log.Printf("[chat] output moderation failed chat=%s err=%v", t.chatID, err)
		events <- Event{Type: EventError, Data: "moderation service unavailable"}
		return
	}
	moderated := false
	if unsafe {
		moderated = true
		reply = moderationNotice
		events <- Event{Type: EventModeration, Data: moderationNotice}
	}

	msgID, err := t.persistFinished(ctx, reply, moderated)
	if err != nil {
		log.Printf("[chat] persist assistant message failed chat=%s err=%v", t.chatID, err)
		errs <- err
		return
	}

	if titleCh != nil {
		select {
		case title, open := <-titleCh:
			if open {
				deliverTitle(title)
			}
		case <-ctx.Done():
		}
	}

	if moderated {
		s.publishSinkEvent(SinkEvent{
			Type:      "message_moderated",
			ChatID:    t.chatID,
			UserID:    t.principal.ID,
			MessageID: msgID,
			At:        time.Now(),
		})
	}
}

func (t *Turn) emitProviderError(events chan<- Event, err error) {
	log.Printf("[chat] provider stream failed model=%s err=%v", t.selection.Model.ID, err)
	msg := "model error: " + err.Error()
	if strings.Contains(err.Error(), "requires a valid credit card") {
		msg = "the AI gateway requires billing to be configured"
	}
	events <- Event{Type: EventError, Data: msg}
}

// persistFinished writes the assistant output exactly once. On a
// resumption the client's pending assistant message is continued: a
// persisted row with a matching id is updated in place, anything else is
// inserted as new.
func (t *Turn) persistFinished(ctx context.Context, reply string, moderated bool) (string, error) {
	s := t.svc

	finished := Message{
		ID:         uuid.NewString(),
		ChatID:     t.chatID,
		UserID:     t.principal.ID,
		Role:       RoleAssistant,
		Parts:      PartList{TextPart(reply)},
		Moderation: moderated,
		CreatedAt:  time.Now(),
	}

	if t.resumption {
		if last := lastAssistant(t.uiMessages); last != nil {
			parts := append(append(PartList{}, last.Parts...), TextPart(reply))
			_, err := s.repo.GetMessageByID(ctx, last.ID)
			switch {
			case err == nil:
				return last.ID, s.repo.UpdateMessageParts(ctx, last.ID, parts, moderated)
			case errors.Is(err, gorm.ErrRecordNotFound):
				finished.ID = last.ID
				finished.Parts = parts
			default:
				return "", err
			}
		}
	}

	return finished.ID, s.repo.InsertMessage(ctx, &finished)
}

func lastAssistant(msgs []Message) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return &msgs[i]
		}
	}
	return nil
}

// inlineAttachments fetches file parts that only carry a URL and embeds
// their content as base64, all attachments in parallel. Per-part failure
// is logged and the part passed through untouched.
func (s *Service) inlineAttachments(ctx context.Context, msgs []Message) {
	var wg sync.WaitGroup
	for i := range msgs {
		for j := range msgs[i].Parts {
			p := &msgs[i].Parts[j]
			if p.Type != PartFile || p.URL == "" || p.Data != "" {
				continue
			}
			wg.Add(1)
			go func(p *Part) {
				defer wg.Done()
				data, err := s.fetchAttachment(ctx, p.URL)
				if err != nil {
					log.Printf("[chat] inline attachment failed url=%s err=%v", p.URL, err)
					return
				}
				p.Data = data
			}(p)
		}
	}
	wg.Wait()
}

func (s *Service) fetchAttachment(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.attachments.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, attachmentLimit))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// toProviderMessage flattens a message's parts into the plain provider
// format. Every part type is handled here; add a case when the union
// grows.
func toProviderMessage(m Message) ai.Message {
	out := ai.Message{Role: m.Role}
	var text []string
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			if p.Text != "" {
				text = append(text, p.Text)
			}
		case PartFile:
			if strings.HasPrefix(p.MediaType, "image/") && p.Data != "" {
				out.Images = append(out.Images, ai.Image{MediaType: p.MediaType, Data: p.Data})
			} else if p.URL != "" {
				text = append(text, "[attachment: "+p.URL+"]")
			}
		case PartToolCall:
			text = append(text, fmt.Sprintf("[tool %s args=%s result=%s]",
				p.ToolName, string(p.ToolArgs), string(p.ToolResult)))
		}
	}
	out.Content = strings.Join(text, "\n")
	return out
}

func (s *Service) publishSinkEvent(evt SinkEvent) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[chat] marshal sink event failed err=%v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, body); err != nil {
		log.Printf("[chat] publish sink event failed type=%s err=%v", evt.Type, err)
	}
}

// ListMessages returns a page of chat history, owner only.
func (s *Service) ListMessages(ctx context.Context, p identity.Principal, chatID string, limit int, before time.Time) ([]Message, error) {
	c, err := s.repo.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.E(common.KindNotFound, "chat", "chat not found")
		}
		return nil, err
	}
	if c.UserID != p.ID {
		return nil, common.E(common.KindForbidden, "chat", "you do not own this chat")
	}
	return s.repo.ListMessages(ctx, chatID, limit, before)
}

// DeleteChat removes a chat owned by the principal and returns the
// deleted row. Kind gating (registered only) happens at the handler.
// Missing and unowned chats get the same answer so the endpoint does not
// reveal which chat ids exist.
func (s *Service) DeleteChat(ctx context.Context, p identity.Principal, chatID string) (*Chat, error) {
	c, err := s.repo.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.E(common.KindForbidden, "chat", "you do not own this chat")
		}
		return nil, err
	}
	if c.UserID != p.ID {
		return nil, common.E(common.KindForbidden, "chat", "you do not own this chat")
	}
	deleted, err := s.repo.DeleteChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.publishSinkEvent(SinkEvent{Type: "chat_deleted", ChatID: chatID, UserID: p.ID, At: time.Now()})
	return deleted, nil
}

// ModerateMessage flags a persisted message by hand: its parts are
// replaced with the moderation notice and the flag set, same shape as an
// automatic post-hoc replacement. Owner only.
func (s *Service) ModerateMessage(ctx context.Context, p identity.Principal, messageID string) (*Message, error) {
	m, err := s.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.E(common.KindNotFound, "chat", "message not found")
		}
		return nil, err
	}
	c, err := s.repo.GetChatByID(ctx, m.ChatID)
	if err != nil {
		return nil, err
	}
	if c.UserID != p.ID {
		return nil, common.E(common.KindForbidden, "chat", "you do not own this chat")
	}

	m.Parts = PartList{TextPart(moderationNotice)}
	m.Moderation = true
	if err := s.repo.UpdateMessageParts(ctx, m.ID, m.Parts, true); err != nil {
		return nil, err
	}
	s.publishSinkEvent(SinkEvent{
		Type:      "message_moderated",
		ChatID:    m.ChatID,
		UserID:    p.ID,
		MessageID: m.ID,
		At:        time.Now(),
	})
	return m, nil
}

// DeleteTrailingMessages removes a message and everything after it in its
// chat, the first step of an edit-and-regenerate flow. Owner only.
func (s *Service) DeleteTrailingMessages(ctx context.Context, p identity.Principal, messageID string) error {
	m, err := s.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return common.E(common.KindNotFound, "chat", "message not found")
		}
		return err
	}
	c, err := s.repo.GetChatByID(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if c.UserID != p.ID {
		return common.E(common.KindForbidden, "chat", "you do not own this chat")
	}
	return s.repo.DeleteMessagesFrom(ctx, m.ChatID, m.CreatedAt)
}

// UpdateVisibility flips a chat between private and public, owner only.
func (s *Service) UpdateVisibility(ctx context.Context, p identity.Principal, chatID, visibility string) (*Chat, error) {
	if visibility != VisibilityPrivate && visibility != VisibilityPublic {
		return nil, common.E(common.KindBadRequest, "api", "visibility must be private or public")
	}
	c, err := s.repo.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.E(common.KindNotFound, "chat", "chat not found")
		}
		return nil, err
	}
	if c.UserID != p.ID {
		return nil, common.E(common.KindForbidden, "chat", "you do not own this chat")
	}
	if err := s.repo.UpdateChatVisibility(ctx, chatID, visibility); err != nil {
		return nil, err
	}
	c.Visibility = visibility
	return c, nil
}

// RegisterStream records a resumable stream id for a chat.
func (s *Service) RegisterStream(ctx context.Context, chatID, streamID string) error {
	return s.repo.CreateStreamRecord(ctx, &StreamRecord{ID: streamID, ChatID: chatID, CreatedAt: time.Now()})
}

// LatestStreamID returns the newest registered stream id for a chat the
// principal owns.
func (s *Service) LatestStreamID(ctx context.Context, p identity.Principal, chatID string) (string, error) {
	c, err := s.repo.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", common.E(common.KindNotFound, "chat", "chat not found")
		}
		return "", err
	}
	if c.UserID != p.ID {
		return "", common.E(common.KindForbidden, "chat", "you do not own this chat")
	}
	id, err := s.repo.LatestStreamID(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", common.E(common.KindNotFound, "stream", "no resumable stream")
		}
		return "", err
	}
	return id, nil
}
