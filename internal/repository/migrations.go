package repository

const migrationTemplates = `
CREATE TABLE IF NOT EXISTS templates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	subject TEXT NOT NULL,
	body_html TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_templates_tenant ON templates(tenant_id);
`

const migrationRecipients = `
CREATE TABLE IF NOT EXISTS recipients (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	email TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	total_spend REAL NOT NULL DEFAULT 0,
	customer_type TEXT NOT NULL DEFAULT '',
	marketing_status TEXT NOT NULL DEFAULT 'subscribed',
	marketing_consent INTEGER NOT NULL DEFAULT 0,
	unsubscribe_token TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recipients_tenant ON recipients(tenant_id);
`

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	template_id INTEGER NOT NULL REFERENCES templates(id),
	audience_filter TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'draft',
	scheduled_at DATETIME,
	started_at DATETIME,
	completed_at DATETIME,
	total_recipients INTEGER NOT NULL DEFAULT 0,
	sent INTEGER NOT NULL DEFAULT 0,
	delivered INTEGER NOT NULL DEFAULT 0,
	opened INTEGER NOT NULL DEFAULT 0,
	clicked INTEGER NOT NULL DEFAULT 0,
	bounced INTEGER NOT NULL DEFAULT 0,
	complained INTEGER NOT NULL DEFAULT 0,
	unsubscribed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_campaigns_tenant ON campaigns(tenant_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_status_scheduled ON campaigns(status, scheduled_at);
`

const migrationDeliveryLogs = `
CREATE TABLE IF NOT EXISTS delivery_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	campaign_id INTEGER NOT NULL REFERENCES campaigns(id),
	tenant_id TEXT NOT NULL,
	recipient_id INTEGER NOT NULL REFERENCES recipients(id),
	template_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	message_id TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	sent_at DATETIME,
	delivered_at DATETIME,
	opened_at DATETIME,
	clicked_at DATETIME,
	bounced_at DATETIME,
	unsubscribed_at DATETIME,
	complained_at DATETIME,
	created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_delivery_logs_pair ON delivery_logs(campaign_id, recipient_id);
CREATE INDEX IF NOT EXISTS idx_delivery_logs_message ON delivery_logs(message_id);
`

const migrationSchedulerLocks = `
CREATE TABLE IF NOT EXISTS scheduler_locks (
	name TEXT PRIMARY KEY,
	holder TEXT NOT NULL,
	acquired_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
`
