package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261009-143000",
		Description: "Allow at most one refund per generation",
		Up: []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_transactions_refund_once
				ON ledger_transactions(generation_id) WHERE type = 'refund' AND generation_id IS NOT NULL`,
		},
	})
}
