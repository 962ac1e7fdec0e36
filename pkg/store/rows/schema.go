package rows

// Each table mirrors one tab of the spreadsheet the ledger started life in.
var schema = []string{
	// Ranges: the roster.
	`CREATE TABLE IF NOT EXISTS ledger_players (
		ledger_id TEXT NOT NULL,
		name      TEXT NOT NULL,
		PRIMARY KEY (ledger_id, name)
	)`,
	// Summary: the balance aggregate.
	`CREATE TABLE IF NOT EXISTS ledger_summary (
		ledger_id TEXT NOT NULL,
		name      TEXT NOT NULL,
		balance   NUMERIC NOT NULL DEFAULT 0,
		PRIMARY KEY (ledger_id, name)
	)`,
	// Metadata: sequence counter and bookkeeping. Locked FOR UPDATE by every mutation.
	`CREATE TABLE IF NOT EXISTS ledger_metadata (
		ledger_id         TEXT PRIMARY KEY,
		next_seq          BIGINT NOT NULL DEFAULT 1,
		transaction_count BIGINT NOT NULL DEFAULT 0,
		rebuilds          BIGINT NOT NULL DEFAULT 0,
		created_at        TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	)`,
	// Transactions: the log.
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		ledger_id  TEXT NOT NULL,
		seq        BIGINT NOT NULL,
		creditor   TEXT NOT NULL,
		debtor     TEXT NOT NULL,
		amount     NUMERIC NOT NULL,
		split      TEXT NOT NULL,
		time_text  TEXT NOT NULL,
		pot_amount NUMERIC NOT NULL,
		date_text  TEXT NOT NULL,
		PRIMARY KEY (ledger_id, seq)
	)`,
	// Activity Log.
	`CREATE TABLE IF NOT EXISTS ledger_activity (
		position    BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		ledger_id   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		seq         BIGINT NOT NULL,
		creditor    TEXT NOT NULL,
		debtor      TEXT NOT NULL,
		amount      TEXT NOT NULL,
		split       TEXT NOT NULL,
		time_text   TEXT NOT NULL,
		pot_amount  TEXT NOT NULL,
		date_text   TEXT NOT NULL,
		recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_activity_ledger ON ledger_activity(ledger_id, position)`,
	// Split Awards.
	`CREATE TABLE IF NOT EXISTS split_awards (
		ledger_id TEXT NOT NULL,
		split     TEXT NOT NULL,
		percent   NUMERIC NOT NULL,
		PRIMARY KEY (ledger_id, split)
	)`,
}
