package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Flow definitions. The full document lives in data; the extracted
			-- columns exist for lookups and listings.
			CREATE TABLE flows (
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				namespace VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				revision INTEGER NOT NULL DEFAULT 1,
				disabled BOOLEAN NOT NULL DEFAULT FALSE,
				data JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, namespace, id)
			);

			CREATE INDEX idx_flows_namespace ON flows(tenant_id, namespace);

			-- Executions, one row per execution document.
			CREATE TABLE executions (
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				id VARCHAR(255) NOT NULL,
				namespace VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL,
				state VARCHAR(50) NOT NULL,
				trigger_execution_id VARCHAR(255),
				start_date TIMESTAMP WITH TIME ZONE,
				end_date TIMESTAMP WITH TIME ZONE,
				data JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, id)
			);

			CREATE INDEX idx_executions_flow ON executions(tenant_id, namespace, flow_id);
			CREATE INDEX idx_executions_state ON executions(tenant_id, state);
			CREATE INDEX idx_executions_trigger_execution ON executions(tenant_id, trigger_execution_id);
			CREATE INDEX idx_executions_end_date ON executions(tenant_id, end_date);

			-- Trigger cursors. version backs the optimistic concurrency check.
			CREATE TABLE triggers (
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				namespace VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL,
				trigger_id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL DEFAULT 1,
				data JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, namespace, flow_id, trigger_id)
			);

			-- Multiple-condition windows, one row per correlation key.
			CREATE TABLE multiple_condition_windows (
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				namespace VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL,
				condition_id VARCHAR(255) NOT NULL,
				correlation_key VARCHAR(255) NOT NULL,
				end_date TIMESTAMP WITH TIME ZONE NOT NULL,
				data JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, namespace, flow_id, condition_id, correlation_key)
			);

			CREATE INDEX idx_windows_end_date ON multiple_condition_windows(tenant_id, end_date);

			-- Execution logs and metrics. The engine core only deletes by
			-- execution; workers append.
			CREATE TABLE logs (
				id BIGSERIAL PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				execution_id VARCHAR(255) NOT NULL,
				task_run_id VARCHAR(255),
				level VARCHAR(20) NOT NULL,
				message TEXT NOT NULL,
				logged_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_logs_execution ON logs(tenant_id, execution_id);

			CREATE TABLE metrics (
				id BIGSERIAL PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				execution_id VARCHAR(255) NOT NULL,
				task_run_id VARCHAR(255),
				name VARCHAR(255) NOT NULL,
				value DOUBLE PRECISION NOT NULL,
				tags JSONB,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_metrics_execution ON metrics(tenant_id, execution_id);
		`,
	}
}
