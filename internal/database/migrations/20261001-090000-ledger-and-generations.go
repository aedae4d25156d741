package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261001-090000",
		Description: "Credit ledger and generation records",
		Up: []string{
			// Balances - one row per identity, materialized on first adjustment
			`CREATE TABLE IF NOT EXISTS balances (
				identity TEXT PRIMARY KEY,
				balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
				updated_at TEXT NOT NULL
			)`,

			// Ledger transactions - append-only, sum per identity equals balances.balance
			`CREATE TABLE IF NOT EXISTS ledger_transactions (
				id TEXT PRIMARY KEY,
				identity TEXT NOT NULL,
				type TEXT NOT NULL,
				amount INTEGER NOT NULL,
				balance_after INTEGER NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				generation_id TEXT,
				external_ref TEXT,
				metadata_json TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_identity ON ledger_transactions(identity, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_generation ON ledger_transactions(generation_id)`,
			// Idempotency for webhook-driven credits (payment intents, signup grants)
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_transactions_external_ref
				ON ledger_transactions(external_ref) WHERE external_ref IS NOT NULL`,

			// Generations - one row per inference request or batch
			`CREATE TABLE IF NOT EXISTS generations (
				id TEXT PRIMARY KEY,
				identity TEXT NOT NULL,
				kind TEXT NOT NULL,
				model_id TEXT NOT NULL,
				prompt TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'processing' CHECK (status IN ('processing', 'success', 'failed')),
				result_urls_json TEXT NOT NULL DEFAULT '[]',
				credits_used INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				metadata_json TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				completed_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_generations_identity ON generations(identity, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_generations_status ON generations(status, created_at)`,
		},
	})
}
