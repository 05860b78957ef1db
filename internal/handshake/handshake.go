// Package handshake implements the challenge/response exchange that confirms
// synchronized contact with the satellite before a data phase proceeds.
//
// Each attempt sends the next word of a fixed challenge list. Any response marks
// contact as acknowledged; only an echo of the most recently sent word
// synchronizes. When the attempts run out the session fails, distinguishing a
// link that answered but never synchronized from one that never answered.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beeper/groundstation-gateway/internal/protocol"
)

type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingFirstResponse State = "awaiting_first_response"
	StateSynchronizing         State = "synchronizing"
	StateSynchronized          State = "synchronized"
	StateFailed                State = "failed"
)

// DefaultWords are the challenge words, one per attempt.
var DefaultWords = []string{
	"ALBUM",
	"BANTU",
	"COMET",
	"DOETH",
	"EARTH",
	"FORCE",
	"GALAX",
	"HEXAD",
	"INGOT",
	"JUMBO",
}

var (
	ErrNoContact       = errors.New("no contact with satellite")
	ErrNotSynchronized = errors.New("contact made with satellite but could not sync carriers")
	ErrNoWords         = errors.New("handshake has no challenge words")
)

// TimeoutError is returned when every attempt was used without synchronizing.
type TimeoutError struct {
	Acknowledged bool
	Attempts     int
	Elapsed      time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Acknowledged {
		return ErrNotSynchronized.Error()
	}
	return fmt.Sprintf("%s after %d attempts (%s)", ErrNoContact, e.Attempts, e.Elapsed)
}

func (e *TimeoutError) Is(target error) bool {
	if e.Acknowledged {
		return target == ErrNotSynchronized
	}
	return target == ErrNoContact
}

type Sender interface {
	Send(ctx context.Context, msg any) error
}

// Listener delivers echoed words from the link. Close releases the subscription.
type Listener interface {
	Responses() <-chan string
	Close()
}

// Hooks observe session progress. Nil hooks are skipped.
type Hooks struct {
	Sent         func(attempt, max int)
	Acknowledged func()
	Response     func(attempt, max int)
}

type Config struct {
	Words       []string
	MaxAttempts int
	Interval    time.Duration
}

type Session struct {
	log   zerolog.Logger
	link  Sender
	words []string
	max   int
	every time.Duration
	hooks Hooks

	mu           sync.Mutex
	state        State
	attempts     int
	acknowledged bool
	current      string
}

func New(link Sender, cfg Config, hooks Hooks) *Session {
	words := cfg.Words
	if len(words) == 0 {
		words = DefaultWords
	}
	max := cfg.MaxAttempts
	if max <= 0 || max > len(words) {
		max = len(words)
	}
	return &Session{
		log:   log.With().Str("component", "handshake").Logger(),
		link:  link,
		words: words,
		max:   max,
		every: cfg.Interval,
		hooks: hooks,
		state: StateIdle,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run performs the handshake. On success it returns the echoed word joined with
// the expected word. The listener is closed before Run returns.
func (s *Session) Run(ctx context.Context, listener Listener) (string, error) {
	defer listener.Close()

	if s.max == 0 {
		s.setState(StateFailed)
		return "", ErrNoWords
	}

	started := time.Now()
	s.setState(StateAwaitingFirstResponse)
	if err := s.ping(ctx); err != nil {
		s.setState(StateFailed)
		return "", err
	}

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	responses := listener.Responses()
	for {
		select {
		case <-ctx.Done():
			s.setState(StateFailed)
			return "", ctx.Err()

		case word, ok := <-responses:
			if !ok {
				responses = nil
				continue
			}
			if artifact, done := s.receive(word); done {
				return artifact, nil
			}

		case <-ticker.C:
			// Responses already delivered count before this tick is judged.
			if artifact, done := s.drain(responses); done {
				return artifact, nil
			}

			s.mu.Lock()
			attempts, acknowledged := s.attempts, s.acknowledged
			s.mu.Unlock()

			if attempts >= s.max {
				s.setState(StateFailed)
				err := &TimeoutError{Acknowledged: acknowledged, Attempts: attempts, Elapsed: time.Since(started).Round(time.Millisecond)}
				s.log.Warn().Err(err).Msg("Handshake failed")
				return "", err
			}
			if err := s.ping(ctx); err != nil {
				s.setState(StateFailed)
				return "", err
			}
		}
	}
}

func (s *Session) drain(responses <-chan string) (string, bool) {
	for {
		select {
		case word, ok := <-responses:
			if !ok {
				return "", false
			}
			if artifact, done := s.receive(word); done {
				return artifact, true
			}
		default:
			return "", false
		}
	}
}

func (s *Session) receive(word string) (string, bool) {
	s.mu.Lock()
	first := !s.acknowledged
	s.acknowledged = true
	if first {
		s.state = StateSynchronizing
	}
	attempts, expected := s.attempts, s.current
	s.mu.Unlock()

	if first && s.hooks.Acknowledged != nil {
		s.hooks.Acknowledged()
	}
	if s.hooks.Response != nil {
		s.hooks.Response(attempts, s.max)
	}

	if word != expected {
		s.log.Debug().Str("word", word).Str("expected", expected).Msg("Unsynchronized response")
		return "", false
	}

	s.setState(StateSynchronized)
	s.log.Info().Str("word", word).Int("attempts", attempts).Msg("Carrier synchronized")
	return word + expected, true
}

func (s *Session) ping(ctx context.Context) error {
	s.mu.Lock()
	word := s.words[s.attempts]
	s.current = word
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if err := s.link.Send(ctx, protocol.NewChecksumPing(word)); err != nil {
		return fmt.Errorf("send checksum ping %d: %w", attempt, err)
	}
	s.log.Debug().Str("word", word).Int("attempt", attempt).Msg("Sent checksum ping")
	if s.hooks.Sent != nil {
		s.hooks.Sent(attempt, s.max)
	}
	return nil
}
