package quota

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is a print unit kind tracked by the ledger.
type Kind string

const (
	KindBW    Kind = "bw"
	KindColor Kind = "color"
)

// Kinds lists every tracked kind in reporting order.
var Kinds = []Kind{KindBW, KindColor}

func (k Kind) Label() string {
	if k == KindColor {
		return "Color"
	}
	return "B&W"
}

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindBW:
		return KindBW, nil
	case KindColor:
		return KindColor, nil
	}
	return "", fmt.Errorf("unknown quota kind %q", s)
}

// MonthOf normalizes t to the first day of its month in UTC.
func MonthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonth accepts YYYY-MM or a full YYYY-MM-DD date.
func ParseMonth(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return MonthOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid month %q, expected YYYY-MM", s)
}

func nextMonth(month time.Time) time.Time {
	return MonthOf(month).AddDate(0, 1, 0)
}

// Limits are the base allowances applied when a month's row is created.
type Limits struct {
	BW    int
	Color int
}

// ClientQuota is one client's usage for one calendar month. TopupBW and
// TopupColor are loaded from the top-up ledger and are not stored on the row.
type ClientQuota struct {
	ID             uuid.UUID `json:"id"`
	ClientID       uuid.UUID `json:"client_id"`
	Month          time.Time `json:"month"`
	BWLimit        int       `json:"bw_limit"`
	ColorLimit     int       `json:"color_limit"`
	BWUsed         int       `json:"bw_used"`
	ColorUsed      int       `json:"color_used"`
	BWAlertSent    bool      `json:"bw_alert_sent"`
	ColorAlertSent bool      `json:"color_alert_sent"`
	TopupBW        int       `json:"topup_bw"`
	TopupColor     int       `json:"topup_color"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newClientQuota(clientID uuid.UUID, month time.Time, limits Limits) *ClientQuota {
	now := time.Now().UTC()
	return &ClientQuota{
		ID:         uuid.New(),
		ClientID:   clientID,
		Month:      MonthOf(month),
		BWLimit:    limits.BW,
		ColorLimit: limits.Color,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (q *ClientQuota) BaseLimit(k Kind) int {
	if k == KindColor {
		return q.ColorLimit
	}
	return q.BWLimit
}

func (q *ClientQuota) Topups(k Kind) int {
	if k == KindColor {
		return q.TopupColor
	}
	return q.TopupBW
}

// TotalLimit is the base limit plus the month's top-ups.
func (q *ClientQuota) TotalLimit(k Kind) int {
	return q.BaseLimit(k) + q.Topups(k)
}

func (q *ClientQuota) Used(k Kind) int {
	if k == KindColor {
		return q.ColorUsed
	}
	return q.BWUsed
}

// Available may be negative only when the ledger is corrupt.
func (q *ClientQuota) Available(k Kind) int {
	return q.TotalLimit(k) - q.Used(k)
}

// UsageRatio is used/total, or 0 when the total is 0.
func (q *ClientQuota) UsageRatio(k Kind) float64 {
	total := q.TotalLimit(k)
	if total <= 0 {
		return 0
	}
	return float64(q.Used(k)) / float64(total)
}

// PercentUsed is UsageRatio as a percentage rounded to two decimals.
func (q *ClientQuota) PercentUsed(k Kind) float64 {
	return math.Round(q.UsageRatio(k)*10000) / 100
}

func (q *ClientQuota) AlertSent(k Kind) bool {
	if k == KindColor {
		return q.ColorAlertSent
	}
	return q.BWAlertSent
}

func (q *ClientQuota) markAlertSent(k Kind) {
	if k == KindColor {
		q.ColorAlertSent = true
		return
	}
	q.BWAlertSent = true
}

func (q *ClientQuota) add(k Kind, n int) {
	if k == KindColor {
		q.ColorUsed += n
		return
	}
	q.BWUsed += n
}

// release subtracts n from usage, flooring at zero.
func (q *ClientQuota) release(k Kind, n int) {
	used := q.Used(k) - n
	if used < 0 {
		used = 0
	}
	if k == KindColor {
		q.ColorUsed = used
		return
	}
	q.BWUsed = used
}

func (q *ClientQuota) usage() map[string]any {
	return map[string]any{
		"bw_used":    q.BWUsed,
		"color_used": q.ColorUsed,
	}
}

// check verifies both kinds independently against the requested amounts.
func (q *ClientQuota) check(bw, color int) error {
	var shortfalls []Shortfall
	for _, k := range Kinds {
		requested := bw
		if k == KindColor {
			requested = color
		}
		available := q.Available(k)
		if available < 0 {
			return fmt.Errorf("%w: client %s month %s %s available %d",
				ErrLedgerIntegrity, q.ClientID, q.Month.Format("2006-01"), k, available)
		}
		if requested > available {
			shortfalls = append(shortfalls, Shortfall{
				Kind:        k,
				Requested:   requested,
				Available:   available,
				Shortfall:   requested - available,
				Limit:       q.TotalLimit(k),
				Used:        q.Used(k),
				PercentUsed: q.PercentUsed(k),
			})
		}
	}
	if len(shortfalls) == 0 {
		return nil
	}
	return &ExceededError{ClientID: q.ClientID, Month: q.Month, Shortfalls: shortfalls}
}

// Topup is an append-only allowance increase granted by an administrator.
type Topup struct {
	ID              uuid.UUID `json:"id"`
	ClientID        uuid.UUID `json:"client_id"`
	AdminID         uuid.UUID `json:"admin_id"`
	BWAdded         int       `json:"bw_added"`
	ColorAdded      int       `json:"color_added"`
	TransactionDate time.Time `json:"transaction_date"`
	Notes           string    `json:"notes,omitempty"`
}

// TopupRequest is the input of ApplyTopup.
type TopupRequest struct {
	ClientID   uuid.UUID
	AdminID    uuid.UUID
	BWAdded    int
	ColorAdded int
	Notes      string
}

// KindSummary reports one kind of a month's quota.
type KindSummary struct {
	BaseLimit   int     `json:"base_limit"`
	Topups      int     `json:"topups"`
	TotalLimit  int     `json:"total_limit"`
	Used        int     `json:"used"`
	Available   int     `json:"available"`
	PercentUsed float64 `json:"percentage_used"`
	AlertSent   bool    `json:"alert_sent"`
}

// Summary is the read model returned by the quota endpoints.
type Summary struct {
	ClientID      uuid.UUID   `json:"client_id"`
	Month         string      `json:"month"`
	BW            KindSummary `json:"bw"`
	Color         KindSummary `json:"color"`
	TopupsHistory []Topup     `json:"topups_history"`
}

func summarize(q *ClientQuota, topups []Topup) *Summary {
	kind := func(k Kind) KindSummary {
		return KindSummary{
			BaseLimit:   q.BaseLimit(k),
			Topups:      q.Topups(k),
			TotalLimit:  q.TotalLimit(k),
			Used:        q.Used(k),
			Available:   q.Available(k),
			PercentUsed: q.PercentUsed(k),
			AlertSent:   q.AlertSent(k),
		}
	}
	if topups == nil {
		topups = []Topup{}
	}
	return &Summary{
		ClientID:      q.ClientID,
		Month:         q.Month.Format("2006-01"),
		BW:            kind(KindBW),
		Color:         kind(KindColor),
		TopupsHistory: topups,
	}
}

// Alert describes a warning threshold crossing for one kind.
type Alert struct {
	ClientID    uuid.UUID
	Month       time.Time
	Kind        Kind
	Used        int
	Total       int
	PercentUsed float64
}

func (a *Alert) Message() string {
	return fmt.Sprintf("%s quota alert: you have used %.1f%% (%d/%d) of your %s printing quota for %s. Consider requesting a top-up to avoid service interruption.",
		a.Kind.Label(), a.PercentUsed, a.Used, a.Total, a.Kind.Label(), a.Month.Format("January 2006"))
}
