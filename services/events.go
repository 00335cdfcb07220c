package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"dice-duel/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type EventType string

const (
	EventSessionCreated     EventType = "session.created"
	EventReadyCheckResolved EventType = "session.readyCheckResolved"
	EventSessionPaused      EventType = "session.paused"
	EventSessionResumed     EventType = "session.resumed"
	EventSessionCompleted   EventType = "session.completed"
	EventSessionTurn        EventType = "session.turn"
	EventSessionExpired     EventType = "session.expired"
)

const (
	RedisAllEventsChannel     = "duel:events"
	redisSessionChannelPrefix = "duel:session:"
)

// Event is a session lifecycle notification.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id"`
	Phase     models.Phase `json:"phase"`
	Version   int64        `json:"version"`
	At        time.Time    `json:"at"`
	Payload   any          `json:"payload,omitempty"`
}

type CreatedPayload struct {
	Players       [2]string          `json:"players"`
	Bots          [2]bool            `json:"bots"`
	GameMode      string             `json:"gameMode"`
	SessionType   models.SessionType `json:"sessionType"`
	ReadyDeadline time.Time          `json:"readyDeadline"`
}

type ReadyResolvedPayload struct {
	Outcome models.Phase `json:"outcome"`
	Reason  string       `json:"reason,omitempty"`
}

type PausedPayload struct {
	Reason   string    `json:"reason"`
	Deadline time.Time `json:"deadline"`
	Stale    []string  `json:"stale"`
}

type CompletedPayload struct {
	Winner      string         `json:"winner"`
	Reason      string         `json:"reason"`
	RatingDelta map[string]int `json:"ratingDelta"`
}

type ExpiredPayload struct {
	Reason string `json:"reason"`
}

type TurnPayload struct {
	Player    string         `json:"player"`
	Action    string         `json:"action"`
	Die1      int            `json:"die1,omitempty"`
	Die2      int            `json:"die2,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	TurnScore int            `json:"turnScore"`
	TurnOwner string         `json:"turnOwner"`
	Scores    map[string]int `json:"scores"`
}

func sessionEvent(typ EventType, s *models.MatchSession, at time.Time, payload any) Event {
	return Event{Type: typ, SessionID: s.ID, Phase: s.Phase, Version: s.Version, At: at, Payload: payload}
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// MultiPublisher fans out to every publisher.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		p.Publish(ctx, ev)
	}
}

// Broadcaster delivers events to in-process subscribers of a session.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{subs: make(map[string]map[chan Event]struct{}), buffer: buffer}
}

// Subscribe returns a channel of the session's events and a cancel func.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sessionID], ch)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(_ context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			zap.L().Warn("[Events] dropping event for slow subscriber",
				zap.String("session", ev.SessionID), zap.String("type", string(ev.Type)))
		}
	}
}

// Subscribers counts live subscriptions for a session.
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// RedisPublisher publishes every event on the global channel and the session channel.
type RedisPublisher struct {
	Client *redis.Client
}

func SessionChannel(sessionID string) string {
	return redisSessionChannelPrefix + sessionID
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("[Events] marshal event", zap.Error(err))
		return
	}
	pipe := p.Client.Pipeline()
	pipe.Publish(ctx, RedisAllEventsChannel, payload)
	pipe.Publish(ctx, SessionChannel(ev.SessionID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Warn("[Events] redis publish failed",
			zap.String("session", ev.SessionID), zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
