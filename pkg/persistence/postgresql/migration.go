package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create sites table
			CREATE TABLE sites (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				tags JSONB NOT NULL DEFAULT '[]',
				enabled BOOLEAN NOT NULL DEFAULT true,
				paused BOOLEAN NOT NULL DEFAULT false,
				base_url TEXT NOT NULL DEFAULT '',
				auth JSONB NOT NULL DEFAULT '{}',
				flow JSONB NOT NULL DEFAULT '[]',
				schedule JSONB NOT NULL DEFAULT '{}',
				last_run_at TIMESTAMP WITH TIME ZONE,
				last_run_status VARCHAR(20) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_sites_active ON sites(enabled, paused);
			CREATE INDEX idx_sites_created_at ON sites(created_at);

			-- Create runs table
			CREATE TABLE runs (
				id UUID PRIMARY KEY,
				site_id UUID NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
				trigger_type VARCHAR(20) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('RUNNING', 'SUCCESS', 'FAILED', 'SKIPPED')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				summary TEXT NOT NULL DEFAULT '',
				steps JSONB NOT NULL DEFAULT '[]',
				auth_failed BOOLEAN NOT NULL DEFAULT false
			);

			CREATE INDEX idx_runs_site_started ON runs(site_id, started_at DESC);
			CREATE INDEX idx_runs_started_at ON runs(started_at DESC);
		`,
	}
}
