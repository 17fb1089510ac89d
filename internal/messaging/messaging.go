// Package messaging is the in-process expertise and messaging hub: it
// finds experts for a topic, delivers messages to worker inboxes and
// records collaboration requests.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// MessageType classifies a message.
type MessageType string

const (
	MessageTypeAssignment    MessageType = "assignment"
	MessageTypeCollaboration MessageType = "collaboration"
	MessageTypeEscalation    MessageType = "escalation"
	MessageTypeDirect        MessageType = "direct"
)

var (
	// ErrInvalidMessage is returned for messages failing validation.
	ErrInvalidMessage = fmt.Errorf("message %w", models.ErrValidation)
	// ErrUnknownRecipient is returned when a recipient is not in the roster.
	ErrUnknownRecipient = fmt.Errorf("recipient %w", models.ErrNotFound)
)

// Message is delivered to one worker's inbox.
type Message struct {
	ID       string          `json:"id"`
	From     string          `json:"from"`
	To       string          `json:"to" validate:"required"`
	Type     MessageType     `json:"type" validate:"required,oneof=assignment collaboration escalation direct"`
	Topic    string          `json:"topic"`
	Content  string          `json:"content" validate:"required"`
	Priority models.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	SentAt   time.Time       `json:"sent_at"`
}

// Collaboration is a request for helpers to assist a worker.
type Collaboration struct {
	ID          string    `json:"id"`
	Requester   string    `json:"requester"`
	Helpers     []string  `json:"helpers"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
	CreatedAt   time.Time `json:"created_at"`
}

// WorkerSource is the roster view the hub reads.
type WorkerSource interface {
	Get(id string) (*models.Worker, error)
	All() []*models.Worker
}

// Hub delivers messages between workers.
type Hub struct {
	mu       sync.Mutex
	inboxes  map[string][]Message
	collabs  []Collaboration
	validate *validator.Validate

	workers WorkerSource
	clock   clockwork.Clock
	emitter events.Emitter
	logger  *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// WithEmitter sets the event sink.
func WithEmitter(e events.Emitter) Option {
	return func(h *Hub) { h.emitter = events.OrNop(e) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = logging.OrDiscard(l, "messaging") }
}

// New creates a Hub over the roster.
func New(workers WorkerSource, opts ...Option) *Hub {
	h := &Hub{
		inboxes:  make(map[string][]Message),
		validate: validator.New(),
		workers:  workers,
		clock:    clockwork.NewRealClock(),
		emitter:  events.Nop{},
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// FindExperts returns active workers matching at least one of skills, best
// match first. With no skills the topic is matched against worker skills.
// Ties keep roster order.
func (h *Hub) FindExperts(topic string, skills []string) []*models.Worker {
	wanted := skills
	if len(wanted) == 0 && strings.TrimSpace(topic) != "" {
		wanted = []string{topic}
	}
	if len(wanted) == 0 {
		return nil
	}

	type scored struct {
		w       *models.Worker
		matched int
	}
	var found []scored
	for _, w := range h.workers.All() {
		if w.Status != models.WorkerStatusActive {
			continue
		}
		if n := w.MatchedSkills(wanted); n > 0 {
			found = append(found, scored{w, n})
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].matched != found[j].matched {
			return found[i].matched > found[j].matched
		}
		return found[i].w.Workload < found[j].w.Workload
	})

	out := make([]*models.Worker, len(found))
	for i, s := range found {
		out[i] = s.w
	}
	return out
}

// SendMessage validates the message, stamps it and delivers it to the
// recipient's inbox.
func (h *Hub) SendMessage(_ context.Context, msg Message) (Message, error) {
	if msg.Priority == "" {
		msg.Priority = models.PriorityMedium
	}
	if err := h.validate.Struct(msg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Message{}, fmt.Errorf("%w: field %s failed %s", ErrInvalidMessage, verrs[0].Field(), verrs[0].Tag())
		}
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if _, err := h.workers.Get(msg.To); err != nil {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.To)
	}

	msg.ID = uuid.New().String()
	msg.SentAt = h.clock.Now()

	h.mu.Lock()
	h.inboxes[msg.To] = append(h.inboxes[msg.To], msg)
	h.mu.Unlock()

	h.logger.Debug("message sent", "from", msg.From, "to", msg.To, "type", msg.Type, "topic", msg.Topic)
	h.emitter.Emit(events.Event{
		Type:      events.MessageSent,
		Timestamp: msg.SentAt,
		WorkerID:  msg.To,
		Message:   msg.Topic,
		Data: map[string]any{
			"id":       msg.ID,
			"from":     msg.From,
			"type":     string(msg.Type),
			"priority": string(msg.Priority),
		},
	})
	return msg, nil
}

// Inbox returns the messages delivered to a worker, oldest first.
func (h *Hub) Inbox(workerID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.inboxes[workerID]...)
}

// Drain returns and clears a worker's inbox.
func (h *Hub) Drain(workerID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.inboxes[workerID]
	delete(h.inboxes, workerID)
	return msgs
}

// CreateCollaboration records a request for helpers to assist requester and
// notifies every helper. Unknown helpers are skipped and logged.
func (h *Hub) CreateCollaboration(ctx context.Context, requester string, helpers []string, title, description string, deadline time.Time) (Collaboration, error) {
	if strings.TrimSpace(title) == "" {
		return Collaboration{}, fmt.Errorf("%w: collaboration title required", ErrInvalidMessage)
	}
	c := Collaboration{
		ID:          uuid.New().String(),
		Requester:   requester,
		Helpers:     append([]string(nil), helpers...),
		Title:       title,
		Description: description,
		Deadline:    deadline,
		CreatedAt:   h.clock.Now(),
	}

	h.mu.Lock()
	h.collabs = append(h.collabs, c)
	h.mu.Unlock()

	for _, helper := range helpers {
		_, err := h.SendMessage(ctx, Message{
			From:     requester,
			To:       helper,
			Type:     MessageTypeCollaboration,
			Topic:    title,
			Content:  description,
			Priority: models.PriorityHigh,
		})
		if err != nil {
			h.logger.Warn("collaboration helper not notified", "helper", helper, "error", err)
		}
	}

	h.logger.Info("collaboration requested", "id", c.ID, "requester", requester, "helpers", len(helpers))
	h.emitter.Emit(events.Event{
		Type:      events.CollaborationRequested,
		Timestamp: c.CreatedAt,
		WorkerID:  requester,
		Message:   title,
		Data:      map[string]any{"id": c.ID, "helpers": c.Helpers, "deadline": deadline},
	})
	return c, nil
}

// Collaborations returns every recorded collaboration request.
func (h *Hub) Collaborations() []Collaboration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Collaboration, len(h.collabs))
	for i, c := range h.collabs {
		c.Helpers = append([]string(nil), c.Helpers...)
		out[i] = c
	}
	return out
}
