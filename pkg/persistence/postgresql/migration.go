package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Execution log: one row per node execution record
			CREATE TABLE execution_logs (
				id UUID PRIMARY KEY,
				automation_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED')),
				inputs JSONB NOT NULL DEFAULT '{}',
				outputs JSONB,
				error_message TEXT,
				start_time TIMESTAMP WITH TIME ZONE NOT NULL,
				end_time TIMESTAMP WITH TIME ZONE
			);
		`,
		2: `
			CREATE INDEX idx_execution_logs_automation_start ON execution_logs(automation_id, start_time);
		`,
	}
}
