package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/asheshgoplani/panewatch/internal/broadcast"
)

const pushSubscriptionsFileName = "web_push_subscriptions.json"

type pushSubscription struct {
	Endpoint       string               `json:"endpoint"`
	ExpirationTime any                  `json:"expirationTime,omitempty"`
	Keys           pushSubscriptionKeys `json:"keys"`
	ClientFocused  *bool                `json:"clientFocused,omitempty"`
	FocusUpdatedAt time.Time            `json:"focusUpdatedAt,omitempty"`
}

type pushSubscriptionKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s pushSubscription) normalize() pushSubscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256DH = strings.TrimSpace(s.Keys.P256DH)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
	return s
}

func (s pushSubscription) validate() error {
	sub := s.normalize()
	if sub.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if sub.Keys.P256DH == "" {
		return fmt.Errorf("keys.p256dh is required")
	}
	if sub.Keys.Auth == "" {
		return fmt.Errorf("keys.auth is required")
	}
	return nil
}

type pushSubscriptionFile struct {
	UpdatedAt     time.Time          `json:"updatedAt"`
	Subscriptions []pushSubscription `json:"subscriptions"`
}

type pushSubscriptionStore interface {
	List(ctx context.Context) ([]pushSubscription, error)
	Upsert(ctx context.Context, sub pushSubscription) error
	UpdateFocusByEndpoint(ctx context.Context, endpoint string, focused bool) error
	RemoveByEndpoint(ctx context.Context, endpoint string) error
	Count(ctx context.Context) (int, error)
}

type pushSubscriptionFileStore struct {
	path string
	mu   sync.Mutex
}

func newPushSubscriptionFileStore(dataDir string) *pushSubscriptionFileStore {
	return &pushSubscriptionFileStore{
		path: filepath.Join(dataDir, pushSubscriptionsFileName),
	}
}

func (s *pushSubscriptionFileStore) List(_ context.Context) ([]pushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]pushSubscription, len(data.Subscriptions))
	copy(out, data.Subscriptions)
	return out, nil
}

func (s *pushSubscriptionFileStore) Count(ctx context.Context) (int, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

func (s *pushSubscriptionFileStore) Upsert(_ context.Context, sub pushSubscription) error {
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		return err
	}
	if sub.ClientFocused != nil && sub.FocusUpdatedAt.IsZero() {
		sub.FocusUpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	updated := false
	for i := range data.Subscriptions {
		if data.Subscriptions[i].Endpoint != sub.Endpoint {
			continue
		}
		// Preserve last known focus state unless caller explicitly sends one.
		if sub.ClientFocused == nil && data.Subscriptions[i].ClientFocused != nil {
			sub.ClientFocused = data.Subscriptions[i].ClientFocused
			sub.FocusUpdatedAt = data.Subscriptions[i].FocusUpdatedAt
		}
		data.Subscriptions[i] = sub
		updated = true
		break
	}
	if !updated {
		data.Subscriptions = append(data.Subscriptions, sub)
	}
	data.UpdatedAt = time.Now().UTC()

	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) UpdateFocusByEndpoint(_ context.Context, endpoint string, focused bool) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	found := false
	for i := range data.Subscriptions {
		if data.Subscriptions[i].Endpoint != endpoint {
			continue
		}
		focusedCopy := focused
		data.Subscriptions[i].ClientFocused = &focusedCopy
		data.Subscriptions[i].FocusUpdatedAt = time.Now().UTC()
		found = true
		break
	}
	if !found {
		return nil
	}

	data.UpdatedAt = time.Now().UTC()
	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) RemoveByEndpoint(_ context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	filtered := make([]pushSubscription, 0, len(data.Subscriptions))
	for _, sub := range data.Subscriptions {
		if sub.Endpoint == endpoint {
			continue
		}
		filtered = append(filtered, sub)
	}

	data.Subscriptions = filtered
	data.UpdatedAt = time.Now().UTC()
	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) readLocked() (*pushSubscriptionFile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &pushSubscriptionFile{
				UpdatedAt:     time.Now().UTC(),
				Subscriptions: []pushSubscription{},
			}, nil
		}
		return nil, fmt.Errorf("read push subscriptions: %w", err)
	}

	var data pushSubscriptionFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse push subscriptions: %w", err)
	}
	if data.Subscriptions == nil {
		data.Subscriptions = []pushSubscription{}
	}
	return &data, nil
}

func (s *pushSubscriptionFileStore) writeLocked(data *pushSubscriptionFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir push subscription dir: %w", err)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal push subscriptions: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp push subscriptions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename push subscriptions: %w", err)
	}
	return nil
}

type webPushSender interface {
	Send(payload []byte, sub pushSubscription) (int, error)
}

type vapidPushSender struct {
	subject    string
	publicKey  string
	privateKey string
}

func (s *vapidPushSender) Send(payload []byte, sub pushSubscription) (int, error) {
	sub = sub.normalize()
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256DH,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             3600,
	})
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("push gateway status %d", status)
	}
	return status, nil
}

// pushMessage is the JSON body delivered to the push service worker. Audio is
// not carried over push; clients pull it over the websocket instead.
type pushMessage struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tag       string `json:"tag,omitempty"`
	Renotify  bool   `json:"renotify,omitempty"`
	Session   string `json:"session,omitempty"`
	Pane      string `json:"pane,omitempty"`
	Timestamp string `json:"timestamp"`
}

// pushService forwards notification payloads from the broadcast hub to
// web-push subscribers.
type pushService struct {
	enabled bool

	publicKey  string
	privateKey string
	subject    string

	hub    *broadcast.Hub
	store  pushSubscriptionStore
	sender webPushSender

	startOnce sync.Once
}

func newPushService(cfg Config, hub *broadcast.Hub) (*pushService, error) {
	publicKey := strings.TrimSpace(cfg.PushVAPIDPublicKey)
	privateKey := strings.TrimSpace(cfg.PushVAPIDPrivateKey)

	if publicKey == "" && privateKey == "" {
		return nil, nil
	}
	if publicKey == "" || privateKey == "" {
		return nil, fmt.Errorf("both push vapid public and private keys are required")
	}

	subject := strings.TrimSpace(cfg.PushVAPIDSubject)
	if subject == "" {
		subject = "mailto:panewatch@localhost"
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = os.TempDir()
	}

	return &pushService{
		enabled:    true,
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		hub:        hub,
		store:      newPushSubscriptionFileStore(dataDir),
		sender:     &vapidPushSender{subject: subject, publicKey: publicKey, privateKey: privateKey},
	}, nil
}

func (p *pushService) Start(ctx context.Context) {
	if p == nil || !p.enabled {
		return
	}
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

func (p *pushService) Enabled() bool {
	return p != nil && p.enabled
}

func (p *pushService) PublicKey() string {
	if p == nil {
		return ""
	}
	return p.publicKey
}

func (p *pushService) Subject() string {
	if p == nil {
		return ""
	}
	return p.subject
}

func (p *pushService) SubscriptionCount(ctx context.Context) (int, error) {
	if p == nil || p.store == nil {
		return 0, nil
	}
	return p.store.Count(ctx)
}

func (p *pushService) UpsertSubscription(ctx context.Context, sub pushSubscription) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.Upsert(ctx, sub)
}

func (p *pushService) RemoveSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.RemoveByEndpoint(ctx, endpoint)
}

func (p *pushService) UpdateSubscriptionFocus(ctx context.Context, endpoint string, focused bool) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.UpdateFocusByEndpoint(ctx, endpoint, focused)
}

func (p *pushService) run(ctx context.Context) {
	payloads, cancel := p.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-payloads:
			if !ok {
				return
			}
			p.notifySubscribers(ctx, payload)
		}
	}
}

func (p *pushService) notifySubscribers(ctx context.Context, payload broadcast.Payload) {
	subs, err := p.store.List(ctx)
	if err != nil {
		webLog.Error("push_list_subscriptions_failed", slog.String("error", err.Error()))
		return
	}
	if len(subs) == 0 {
		return
	}
	webLog.Debug("push_notifying",
		slog.String("session", payload.Session),
		slog.String("pane", payload.Pane),
		slog.Int("subscribers", len(subs)))

	body := strings.TrimSpace(payload.SummaryText)
	if body == "" {
		body = "A unit of work finished."
	}
	msg := pushMessage{
		Title:     payload.LabelText,
		Body:      body,
		Tag:       fmt.Sprintf("panewatch-%s-%s", payload.Session, payload.Pane),
		Renotify:  true,
		Session:   payload.Session,
		Pane:      payload.Pane,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		webLog.Error("push_marshal_failed", slog.String("error", err.Error()))
		return
	}

	for _, sub := range subs {
		if !shouldNotifySubscription(sub) {
			webLog.Debug("push_skipped",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.String("reason", "focused_state"),
				slog.String("state", focusStateForLog(sub)))
			continue
		}
		statusCode, err := p.sender.Send(raw, sub)
		if err == nil {
			webLog.Debug("push_sent",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.Int("http_status", statusCode))
			continue
		}

		webLog.Error("push_send_failed",
			slog.String("endpoint", sub.Endpoint),
			slog.Int("http_status", statusCode),
			slog.String("error", err.Error()))
		if statusCode == http.StatusGone || statusCode == http.StatusNotFound {
			_ = p.store.RemoveByEndpoint(ctx, sub.Endpoint)
		}
	}
}

// shouldNotifySubscription suppresses push for clients whose tab is focused.
// Unknown focus state means the client never reported presence; keep quiet
// rather than double-notify alongside the websocket.
func shouldNotifySubscription(sub pushSubscription) bool {
	if sub.ClientFocused == nil {
		return false
	}
	return !*sub.ClientFocused
}

func endpointForLog(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err == nil && u.Host != "" {
		return u.Host
	}
	endpoint = strings.TrimSpace(endpoint)
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}

func focusStateForLog(sub pushSubscription) string {
	if sub.ClientFocused == nil {
		return "unknown"
	}
	if *sub.ClientFocused {
		return "focused"
	}
	return "unfocused"
}
