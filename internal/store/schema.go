package store

var schemas = map[Dialect][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS delivery_outcomes (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			campaign_id  TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			email        TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			attempts     INTEGER NOT NULL DEFAULT 0,
			provider     TEXT NOT NULL DEFAULT '',
			message_id   TEXT NOT NULL DEFAULT '',
			recorded_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_outcomes_campaign
			ON delivery_outcomes (campaign_id, recipient_id, seq)`,
	},
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS delivery_outcomes (
			seq          BIGSERIAL PRIMARY KEY,
			id           TEXT NOT NULL UNIQUE,
			campaign_id  TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			email        TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			attempts     INTEGER NOT NULL DEFAULT 0,
			provider     TEXT NOT NULL DEFAULT '',
			message_id   TEXT NOT NULL DEFAULT '',
			recorded_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_outcomes_campaign
			ON delivery_outcomes (campaign_id, recipient_id, seq)`,
	},
}

const outcomeColumns = `id, campaign_id, recipient_id, email, status, reason, attempts, provider, message_id, recorded_at`
