// Package calls owns the lifecycle of a phone call: placing it through
// Twilio, applying webhook updates, switching between AI and human control,
// recording transcripts and producing insights. Every mutation goes through
// store.CallStore.Update so concurrent webhooks and API calls never lose
// writes.
package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/insights"
	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

// Telephony is the slice of the Twilio REST client the service uses.
type Telephony interface {
	CreateCall(ctx context.Context, p twilio.CreateCallParams) (*twilio.CallResource, error)
	HangUp(ctx context.Context, callSID string) (*twilio.CallResource, error)
	Redirect(ctx context.Context, callSID, twiml string) (*twilio.CallResource, error)
}

// Notifier pushes events to browser clients.
type Notifier interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, event string, data any)
	NotifyCall(ctx context.Context, ownerID, callID uuid.UUID, event string, data any)
}

// Relays controls live media relay sessions by call ID.
type Relays interface {
	SetPaused(callID uuid.UUID, paused bool) bool
	// SetHandoff marks the live session as being redirected away, so the
	// stream ending is not mistaken for the caller hanging up.
	SetHandoff(callID uuid.UUID, on bool) bool
	Stop(callID uuid.UUID) bool
}

type Observer interface {
	RecordInsights(err error, d time.Duration)
	RecordTwilioAPI(op string, err error)
}

type Config struct {
	FromNumber string
	// Absolute webhook URLs handed to Twilio.
	VoiceURL          string
	StatusCallbackURL string
	RecordingURL      string
	MediaStreamURL    string

	MaxCallEvents        int
	MaxTranscriptEntries int
}

type Deps struct {
	Store      store.Store
	Telephony  Telephony
	Notifier   Notifier
	Relays     Relays
	Summarizer insights.Summarizer
	Worker     *insights.Worker
	Observer   Observer
	Logger     *slog.Logger
}

type Service struct {
	cfg        Config
	store      store.Store
	tel        Telephony
	notify     Notifier
	relays     Relays
	summarizer insights.Summarizer
	worker     *insights.Worker
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

func New(cfg Config, deps Deps) *Service {
	s := &Service{
		cfg:        cfg,
		store:      deps.Store,
		tel:        deps.Telephony,
		notify:     deps.Notifier,
		relays:     deps.Relays,
		summarizer: deps.Summarizer,
		worker:     deps.Worker,
		observer:   deps.Observer,
		logger:     deps.Logger,
		now:        time.Now,
	}
	if s.notify == nil {
		s.notify = nopNotifier{}
	}
	if s.relays == nil {
		s.relays = nopRelays{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// errUnchanged aborts a store update without writing.
var errUnchanged = errors.New("calls: unchanged")

var errTelephonyDisabled = errors.New("twilio is not configured")

// Get returns the call when ownerID owns it; other owners see not found.
func (s *Service) Get(ctx context.Context, ownerID, callID uuid.UUID) (*types.Call, error) {
	c, err := s.store.Calls().Get(ctx, callID)
	if err != nil {
		return nil, notFound(err)
	}
	if c.OwnerID != ownerID {
		return nil, core.NewNotFoundError("call not found")
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID, f store.CallFilter) ([]types.Call, error) {
	f.Limit = store.ClampLimit(f.Limit)
	return s.store.Calls().List(ctx, ownerID, f)
}

func (s *Service) update(ctx context.Context, callID uuid.UUID, fn func(c *types.Call) error) (*types.Call, bool, error) {
	c, err := s.store.Calls().Update(ctx, callID, fn)
	if errors.Is(err, errUnchanged) {
		current, getErr := s.store.Calls().Get(ctx, callID)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *Service) event(typ string, data map[string]any) types.CallEvent {
	return types.NewCallEvent(typ, s.now(), data)
}

func (s *Service) appendEvent(c *types.Call, typ string, data map[string]any) {
	c.AppendEvent(s.event(typ, data), s.cfg.MaxCallEvents)
}

func (s *Service) publishUpdated(ctx context.Context, c *types.Call) {
	s.notify.NotifyCall(ctx, c.OwnerID, c.ID, types.EventCallUpdated, c)
}

// callbackURL tags one of our webhook URLs with the call ID so callbacks
// resolve before Twilio's CallSid is stored.
func callbackURL(base string, callID uuid.UUID) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("callId", callID.String())
	u.RawQuery = q.Encode()
	return u.String()
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return core.NewNotFoundError("call not found")
	}
	return err
}

func providerError(op string, err error) error {
	return core.NewProviderError("twilio", fmt.Errorf("%s: %w", op, err))
}

type nopNotifier struct{}

func (nopNotifier) NotifyUser(context.Context, uuid.UUID, string, any)            {}
func (nopNotifier) NotifyCall(context.Context, uuid.UUID, uuid.UUID, string, any) {}

type nopRelays struct{}

func (nopRelays) SetPaused(uuid.UUID, bool) bool  { return false }
func (nopRelays) SetHandoff(uuid.UUID, bool) bool { return false }
func (nopRelays) Stop(uuid.UUID) bool             { return false }

type nopObserver struct{}

func (nopObserver) RecordInsights(error, time.Duration) {}
func (nopObserver) RecordTwilioAPI(string, error)       {}
