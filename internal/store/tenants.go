package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/Marraneitor/BOTLY/internal/entitlement"
	"github.com/Marraneitor/BOTLY/internal/schedule"
)

// ErrTenantNotFound is returned when no tenant matches the id or token.
var ErrTenantNotFound = errors.New("tenant not found")

// Subscription mirrors the billing layer's record for a tenant. A nil
// ExpiresAt means nothing was ever granted.
type Subscription struct {
	Active      bool       `json:"active"`
	PlanID      string     `json:"planId"`
	PlanName    string     `json:"planName"`
	PaidAt      *time.Time `json:"paidAt"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	IsTrial     bool       `json:"isTrial"`
	TotalMonths int        `json:"totalMonths"`
}

// Tenant is one registered business and its bot configuration.
type Tenant struct {
	ID                  string            `json:"id"`
	Token               string            `json:"-"`
	Name                string            `json:"name"`
	Email               string            `json:"email"`
	BusinessName        string            `json:"businessName"`
	BusinessDescription string            `json:"businessDescription"`
	Menu                string            `json:"menu"`
	BotPrompt           string            `json:"botPrompt"`
	Schedule            schedule.Schedule `json:"schedule"`
	Subscription        *Subscription     `json:"subscription"`
	CreatedAt           time.Time         `json:"createdAt"`
}

type tenantRow struct {
	ID                  string `db:"id"`
	Token               string `db:"token"`
	Name                string `db:"name"`
	Email               string `db:"email"`
	BusinessName        string `db:"business_name"`
	BusinessDescription string `db:"business_description"`
	Menu                string `db:"menu"`
	BotPrompt           string `db:"bot_prompt"`
	Schedule            string `db:"schedule"`
	Subscription        string `db:"subscription"`
	CreatedAt           string `db:"created_at"`
}

// TenantStore reads and writes tenant records, with a short-TTL read cache in
// front of the id and token lookups. Writes invalidate the cache so the next
// read observes fresh data.
type TenantStore struct {
	db    *sqlx.DB
	cache *gocache.Cache
}

func NewTenantStore(db *sqlx.DB, cacheTTL time.Duration) *TenantStore {
	return &TenantStore{
		db:    db,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Get loads a tenant by id.
func (s *TenantStore) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	if cached, ok := s.cache.Get("id:" + tenantID); ok {
		return cached.(*Tenant), nil
	}
	t, err := s.queryOne(ctx, `SELECT * FROM tenants WHERE id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault("id:"+tenantID, t)
	return t, nil
}

// GetByToken resolves an API token to its tenant.
func (s *TenantStore) GetByToken(ctx context.Context, token string) (*Tenant, error) {
	if cached, ok := s.cache.Get("token:" + token); ok {
		return cached.(*Tenant), nil
	}
	t, err := s.queryOne(ctx, `SELECT * FROM tenants WHERE token = $1`, token)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault("token:"+token, t)
	return t, nil
}

func (s *TenantStore) queryOne(ctx context.Context, query, arg string) (*Tenant, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	return rowToTenant(&row)
}

// Upsert writes the full tenant record and drops any cached copy.
func (s *TenantStore) Upsert(ctx context.Context, t *Tenant) error {
	row, err := tenantToRow(t)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`
		INSERT INTO tenants
			(id, token, name, email, business_name, business_description,
			 menu, bot_prompt, schedule, subscription, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			token = EXCLUDED.token,
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			business_name = EXCLUDED.business_name,
			business_description = EXCLUDED.business_description,
			menu = EXCLUDED.menu,
			bot_prompt = EXCLUDED.bot_prompt,
			schedule = EXCLUDED.schedule,
			subscription = EXCLUDED.subscription,
			created_at = EXCLUDED.created_at`)
	if _, err := s.db.ExecContext(ctx, query,
		row.ID, row.Token, row.Name, row.Email, row.BusinessName,
		row.BusinessDescription, row.Menu, row.BotPrompt, row.Schedule,
		row.Subscription, row.CreatedAt); err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.ID, err)
	}
	s.invalidate(t)
	return nil
}

// SaveSubscription replaces just the tenant's subscription record.
func (s *TenantStore) SaveSubscription(ctx context.Context, tenantID string, sub *Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	query := s.db.Rebind(`UPDATE tenants SET subscription = $1 WHERE id = $2`)
	res, err := s.db.ExecContext(ctx, query, string(data), tenantID)
	if err != nil {
		return fmt.Errorf("save subscription for %s: %w", tenantID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTenantNotFound
	}
	s.cache.Delete("id:" + tenantID)
	return nil
}

// ReadEntitlement implements entitlement.Reader on top of the cached tenant
// record, so per-message checks stay cheap but still observe updates within
// the cache TTL.
func (s *TenantStore) ReadEntitlement(ctx context.Context, tenantID string) (entitlement.Entitlement, error) {
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return entitlement.Entitlement{}, err
	}
	if t.Subscription == nil {
		return entitlement.Entitlement{}, nil
	}
	return entitlement.Entitlement{
		Active:    t.Subscription.Active,
		ExpiresAt: t.Subscription.ExpiresAt,
		IsTrial:   t.Subscription.IsTrial,
	}, nil
}

func (s *TenantStore) invalidate(t *Tenant) {
	s.cache.Delete("id:" + t.ID)
	s.cache.Delete("token:" + t.Token)
}

func rowToTenant(row *tenantRow) (*Tenant, error) {
	t := &Tenant{
		ID:                  row.ID,
		Token:               row.Token,
		Name:                row.Name,
		Email:               row.Email,
		BusinessName:        row.BusinessName,
		BusinessDescription: row.BusinessDescription,
		Menu:                row.Menu,
		BotPrompt:           row.BotPrompt,
	}
	if row.Schedule != "" {
		if err := json.Unmarshal([]byte(row.Schedule), &t.Schedule); err != nil {
			log.Warn().Err(err).Str("tenantID", row.ID).Msg("Dropping unreadable schedule")
		}
	}
	if row.Subscription != "" {
		var sub Subscription
		if err := json.Unmarshal([]byte(row.Subscription), &sub); err != nil {
			log.Warn().Err(err).Str("tenantID", row.ID).Msg("Dropping unreadable subscription")
		} else {
			t.Subscription = &sub
		}
	}
	if row.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339, row.CreatedAt)
		if err == nil {
			t.CreatedAt = ts
		}
	}
	return t, nil
}

func tenantToRow(t *Tenant) (*tenantRow, error) {
	row := &tenantRow{
		ID:                  t.ID,
		Token:               t.Token,
		Name:                t.Name,
		Email:               t.Email,
		BusinessName:        t.BusinessName,
		BusinessDescription: t.BusinessDescription,
		Menu:                t.Menu,
		BotPrompt:           t.BotPrompt,
	}
	if t.Schedule != nil {
		data, err := json.Marshal(t.Schedule)
		if err != nil {
			return nil, fmt.Errorf("encode schedule: %w", err)
		}
		row.Schedule = string(data)
	}
	if t.Subscription != nil {
		data, err := json.Marshal(t.Subscription)
		if err != nil {
			return nil, fmt.Errorf("encode subscription: %w", err)
		}
		row.Subscription = string(data)
	}
	if !t.CreatedAt.IsZero() {
		row.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339)
	}
	return row, nil
}
