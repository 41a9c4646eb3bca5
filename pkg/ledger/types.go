package ledger

import (
	"sort"
	"strings"
	"time"
)

// Identity names the owner of grants and usage. UserID and GuestID are
// mutually exclusive in practice; when both are set the user wins.
type Identity struct {
	UserID  string `json:"user_id,omitempty"`
	GuestID string `json:"guest_id,omitempty"`
}

// Normalize drops the guest ID when a user ID is present.
func (i Identity) Normalize() Identity {
	i.UserID = strings.TrimSpace(i.UserID)
	i.GuestID = strings.TrimSpace(i.GuestID)
	if i.UserID != "" {
		i.GuestID = ""
	}
	return i
}

// Key returns the stable owner key stores index grants by, or "" for an
// empty identity.
func (i Identity) Key() string {
	n := i.Normalize()
	switch {
	case n.UserID != "":
		return "user:" + n.UserID
	case n.GuestID != "":
		return "guest:" + n.GuestID
	}
	return ""
}

// IsZero reports whether neither ID is set.
func (i Identity) IsZero() bool { return i.Key() == "" }

// Grant is one issued allotment of export credits.
type Grant struct {
	ID        string     `json:"id"`
	Identity  Identity   `json:"identity"`
	ProductID string     `json:"product_id"`
	Quota     int        `json:"quota"`
	Used      int        `json:"used"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Active reports whether g has not expired at now.
func (g Grant) Active(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// Remaining returns the unused credits, never negative.
func (g Grant) Remaining() int { return max(0, g.Quota-g.Used) }

// UsageRecord is the append-only proof of one metered export.
type UsageRecord struct {
	ID             string            `json:"id"`
	GrantID        string            `json:"grant_id"`
	Identity       Identity          `json:"identity"`
	ProductID      string            `json:"product_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Format         string            `json:"format,omitempty"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	Extras         map[string]string `json:"extras,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Summary aggregates the active grants of one identity and product.
type Summary struct {
	Quota     int `json:"quota"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// Status is the result kind of a consume attempt.
type Status string

const (
	StatusConsumed        Status = "consumed"
	StatusAlreadyConsumed Status = "already_consumed"
	StatusDenied          Status = "denied"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNoEntitlement Reason = "no_entitlement"
	ReasonNoCredits     Reason = "no_credits"
)

// Outcome is the result of ConsumeOne. Record is set for Consumed and for
// AlreadyConsumed when the earlier record could be read.
type Outcome struct {
	Status Status       `json:"status"`
	Reason Reason       `json:"reason,omitempty"`
	Record *UsageRecord `json:"record,omitempty"`
}

// ConsumeRequest identifies one export to meter.
type ConsumeRequest struct {
	Identity       Identity
	ProductID      string
	IdempotencyKey string

	// Metadata copied onto the usage record.
	Format string
	Width  int
	Height int
	Extras map[string]string
}

// SortCandidates orders grants soonest-expiring first (no expiry last), then
// oldest first, then by ID.
func SortCandidates(grants []Grant) {
	sort.SliceStable(grants, func(i, j int) bool {
		a, b := grants[i], grants[j]
		switch {
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
