// Package notify announces finished backup and restore runs to chat and
// webhook endpoints.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/site-backup/internal/config"
)

// Run statuses.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type Event struct {
	Type      string    `json:"type"` // backup or restore
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Alias     string    `json:"alias,omitempty"`
	Engine    string    `json:"engine,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Warnings  int       `json:"warnings,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

func (e Event) summary() string {
	return fmt.Sprintf("[%s] %s %s", e.Status, e.Type, e.Message)
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every target concurrently and joins their errors.
type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	errList := make([]error, len(m.Targets))
	var g errgroup.Group
	for i, target := range m.Targets {
		if target == nil {
			continue
		}
		i, target := i, target
		g.Go(func() error {
			errList[i] = target.Notify(ctx, event)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errList...)
}

func (m Multi) Empty() bool { return len(m.Targets) == 0 }

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	return post(ctx, "webhook "+w.Name, w.URL, w.Headers, event)
}

type Mattermost struct {
	Name string
	URL  string
}

func (m Mattermost) Notify(ctx context.Context, event Event) error {
	return post(ctx, "mattermost "+m.Name, m.URL, nil, map[string]string{"text": event.summary()})
}

type Matrix struct {
	Name        string
	ServerURL   string
	AccessToken string
	RoomID      string
}

func (m Matrix) Notify(ctx context.Context, event Event) error {
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%d",
		m.ServerURL, url.PathEscape(m.RoomID), time.Now().UnixNano())
	payload := map[string]any{
		"msgtype": "m.text",
		"body":    event.summary(),
	}
	headers := map[string]string{"Authorization": "Bearer " + m.AccessToken}
	return postMethod(ctx, http.MethodPut, "matrix "+m.Name, endpoint, headers, payload)
}

func post(ctx context.Context, target, endpoint string, headers map[string]string, payload any) error {
	return postMethod(ctx, http.MethodPost, target, endpoint, headers, payload)
}

func postMethod(ctx context.Context, method, target, endpoint string, headers map[string]string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", target, resp.Status)
	}
	return nil
}

func FromConfig(cfg config.NotificationsConfig) Multi {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL})
	}
	for _, mx := range cfg.Matrix {
		targets = append(targets, Matrix{Name: mx.Name, ServerURL: mx.ServerURL, AccessToken: mx.AccessToken, RoomID: mx.RoomID})
	}
	return Multi{Targets: targets}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
