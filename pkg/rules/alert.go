package rules

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ilp-connector/pkg/ilp"
	"ilp-connector/pkg/model"
)

var ErrAlertNotFound = errors.New("alert not found")

// Alerts collects operator alerts. Repeats of the same problem bump the count
// of the existing alert; messages are compared without their key=value
// details, so two rejects that differ only in amount share one alert.
type Alerts struct {
	mu     sync.Mutex
	alerts map[string]*model.Alert
	now    func() time.Time
}

func NewAlerts() *Alerts {
	return &Alerts{alerts: make(map[string]*model.Alert), now: time.Now}
}

func (a *Alerts) Create(peerID, triggeredBy, message string) model.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	message = alertSummary(message)
	for _, al := range a.alerts {
		if al.PeerID == peerID && al.TriggeredBy == triggeredBy && al.Message == message {
			al.Count++
			al.UpdatedAt = now
			return *al
		}
	}
	al := &model.Alert{
		ID:          uuid.NewString(),
		PeerID:      peerID,
		TriggeredBy: triggeredBy,
		Message:     message,
		Count:       1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	a.alerts[al.ID] = al
	return *al
}

// List returns alerts oldest first.
func (a *Alerts) List() []model.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Alert, 0, len(a.alerts))
	for _, al := range a.alerts {
		out = append(out, *al)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (a *Alerts) Dismiss(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.alerts[id]; !ok {
		return ErrAlertNotFound
	}
	delete(a.alerts, id)
	return nil
}

// AlertRule raises an alert when the peer refuses our packets because we hit
// the maximum balance it allows us.
type AlertRule struct {
	Passthrough
	peerID string
	alerts *Alerts
}

func NewAlertRule(peerID string, alerts *Alerts) *AlertRule {
	return &AlertRule{peerID: peerID, alerts: alerts}
}

func (r *AlertRule) Outgoing(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		reply, err := next(ctx, p)
		if rej, ok := reply.(*ilp.Reject); ok && err == nil && isBalanceAlert(rej.Code, rej.Message) {
			r.alerts.Create(r.peerID, rej.TriggeredBy, rej.Message)
		}
		var ie *ilp.Error
		if errors.As(err, &ie) && isBalanceAlert(ie.Code, ie.Message) {
			r.alerts.Create(r.peerID, "", ie.Message)
		}
		return reply, err
	}
}

// alertSummary drops trailing key=value fields from a reject message.
func alertSummary(message string) string {
	fields := strings.Fields(message)
	for len(fields) > 1 && strings.Contains(fields[len(fields)-1], "=") {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

func isBalanceAlert(code, message string) bool {
	return code == ilp.CodeInsufficientLiquidity && strings.Contains(message, "maximum balance")
}
