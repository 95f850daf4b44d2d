package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// SQLStore implements Store on top of sqlx.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
	// mu serializes writers so record order equals seq order.
	mu  sync.Mutex
	now func() time.Time
}

// Open connects to the configured database and creates the schema.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	dialect, err := cfg.dialect()
	if err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if dialect == DialectSQLite {
		if dsn == "" {
			dsn = DefaultConfig().DSN
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.ConnectContext(ctx, string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// A single writer connection; also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Lifetime())
	}

	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The schema is not touched.
func New(db *sqlx.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// sqliteDSN enables WAL and full sync so an acknowledged write survives
// a crash.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
}

// Migrate creates the outcome table and its index if missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemas[s.dialect] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Record appends o. Missing ID and RecordedAt are filled in.
func (s *SQLStore) Record(ctx context.Context, o domain.DeliveryOutcome) error {
	if o.CampaignID == "" || o.RecipientID == "" {
		return fmt.Errorf("%w: campaign and recipient id are required", ErrInvalidOutcome)
	}
	switch o.Status {
	case domain.OutcomeSent, domain.OutcomeFailed, domain.OutcomeSkipped:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidOutcome, o.Status)
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = s.now()
	}
	o.RecordedAt = o.RecordedAt.UTC()

	query := `INSERT INTO delivery_outcomes (` + outcomeColumns + `)
		VALUES (:id, :campaign_id, :recipient_id, :email, :status, :reason, :attempts, :provider, :message_id, :recorded_at)`

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.NamedExecContext(ctx, query, o); err != nil {
		return fmt.Errorf("%w: insert outcome: %v", ErrPersistence, err)
	}
	return nil
}

// QueryByCampaign returns all outcomes of the campaign in record order.
func (s *SQLStore) QueryByCampaign(ctx context.Context, campaignID string) ([]domain.DeliveryOutcome, error) {
	query := s.db.Rebind(`SELECT ` + outcomeColumns + ` FROM delivery_outcomes
		WHERE campaign_id = ? ORDER BY seq`)
	var out []domain.DeliveryOutcome
	if err := s.db.SelectContext(ctx, &out, query, campaignID); err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	return normalize(out), nil
}

// LatestByCampaign returns the last outcome recorded for each recipient,
// in record order.
func (s *SQLStore) LatestByCampaign(ctx context.Context, campaignID string) ([]domain.DeliveryOutcome, error) {
	query := s.db.Rebind(`SELECT ` + outcomeColumns + ` FROM delivery_outcomes
		WHERE seq IN (
			SELECT MAX(seq) FROM delivery_outcomes WHERE campaign_id = ? GROUP BY recipient_id
		)
		ORDER BY seq`)
	var out []domain.DeliveryOutcome
	if err := s.db.SelectContext(ctx, &out, query, campaignID); err != nil {
		return nil, fmt.Errorf("query latest outcomes: %w", err)
	}
	return normalize(out), nil
}

// SentRecipients returns the ids of recipients already delivered to.
func (s *SQLStore) SentRecipients(ctx context.Context, campaignID string) (map[string]bool, error) {
	query := s.db.Rebind(`SELECT DISTINCT recipient_id FROM delivery_outcomes
		WHERE campaign_id = ? AND status = ?`)
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, campaignID, domain.OutcomeSent); err != nil {
		return nil, fmt.Errorf("query sent recipients: %w", err)
	}
	sent := make(map[string]bool, len(ids))
	for _, id := range ids {
		sent[id] = true
	}
	return sent, nil
}

// Summary counts the latest outcome per recipient. ErrNotFound is
// returned for a campaign with no outcomes.
func (s *SQLStore) Summary(ctx context.Context, campaignID string) (*domain.CampaignSummary, error) {
	latest, err := s.LatestByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return nil, ErrNotFound
	}
	sums := summarize(latest)
	return &sums[0], nil
}

// Campaigns summarizes every campaign, most recently active first.
func (s *SQLStore) Campaigns(ctx context.Context) ([]domain.CampaignSummary, error) {
	query := `SELECT ` + outcomeColumns + ` FROM delivery_outcomes
		WHERE seq IN (
			SELECT MAX(seq) FROM delivery_outcomes GROUP BY campaign_id, recipient_id
		)
		ORDER BY seq`
	var latest []domain.DeliveryOutcome
	if err := s.db.SelectContext(ctx, &latest, query); err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	return summarize(normalize(latest)), nil
}

// PingContext checks the database connection.
func (s *SQLStore) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// summarize folds outcomes into one summary per campaign.
func summarize(outcomes []domain.DeliveryOutcome) []domain.CampaignSummary {
	index := map[string]int{}
	var sums []domain.CampaignSummary
	for _, o := range outcomes {
		i, ok := index[o.CampaignID]
		if !ok {
			i = len(sums)
			index[o.CampaignID] = i
			sums = append(sums, domain.CampaignSummary{CampaignID: o.CampaignID})
		}
		sum := &sums[i]
		switch o.Status {
		case domain.OutcomeSent:
			sum.Sent++
		case domain.OutcomeFailed:
			sum.Failed++
		case domain.OutcomeSkipped:
			sum.Skipped++
		}
		if o.RecordedAt.After(sum.LastSeen) {
			sum.LastSeen = o.RecordedAt
		}
	}
	sort.SliceStable(sums, func(a, b int) bool {
		return sums[a].LastSeen.After(sums[b].LastSeen)
	})
	return sums
}

func normalize(outcomes []domain.DeliveryOutcome) []domain.DeliveryOutcome {
	for i := range outcomes {
		outcomes[i].RecordedAt = outcomes[i].RecordedAt.UTC()
	}
	return outcomes
}
