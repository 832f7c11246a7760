package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Pipeline runs
			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				trigger VARCHAR(50) NOT NULL,
				kind VARCHAR(100) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'paused', 'completed', 'failed')),
				current_stage VARCHAR(50) NOT NULL,
				completed_stages TEXT[] NOT NULL DEFAULT '{}',
				failed_stages TEXT[] NOT NULL DEFAULT '{}',
				checkpoints JSONB NOT NULL DEFAULT '{}',
				seed JSONB NOT NULL DEFAULT '{}',
				error_message TEXT NOT NULL DEFAULT '',
				version BIGINT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_runs_status ON runs(status);
			CREATE INDEX idx_runs_started_at ON runs(started_at);

			-- Approval requests
			CREATE TABLE approvals (
				id VARCHAR(255) PRIMARY KEY,
				kind VARCHAR(50) NOT NULL,
				related_id VARCHAR(255) NOT NULL,
				run_id VARCHAR(255) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				stage VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				summary TEXT NOT NULL DEFAULT '',
				message_ref VARCHAR(255),
				reviewer VARCHAR(255) NOT NULL DEFAULT '',
				feedback TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_approvals_run_id ON approvals(run_id);
			CREATE INDEX idx_approvals_status ON approvals(status);
			CREATE UNIQUE INDEX idx_approvals_message_ref ON approvals(message_ref) WHERE message_ref IS NOT NULL;
		`,
		2: `
			-- Journal ring
			CREATE TABLE log_entries (
				sequence BIGSERIAL PRIMARY KEY,
				id VARCHAR(255) NOT NULL,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				severity VARCHAR(50) NOT NULL,
				message TEXT NOT NULL,
				data JSONB,
				correlation_id VARCHAR(255)
			);

			CREATE INDEX idx_log_entries_correlation_id ON log_entries(correlation_id);
			CREATE INDEX idx_log_entries_severity ON log_entries(severity);
		`,
	}
}
