package store

// Safe to apply repeatedly - uses IF NOT EXISTS throughout.
const schema = `
CREATE TABLE IF NOT EXISTS team (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    color TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tracked_user (
    id TEXT PRIMARY KEY,
    identity TEXT,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    team_id TEXT,
    profile_picture TEXT,
    lat REAL,
    lng REAL,
    location_updated_at TIMESTAMP,
    activity TEXT,
    accuracy REAL,
    speed REAL,
    battery REAL,
    has_premium INTEGER NOT NULL DEFAULT 0,
    auth_token TEXT,
    api_key TEXT,
    location_paused_until TIMESTAMP,
    fake_target_team_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_tracked_user_identity ON tracked_user(identity);
CREATE INDEX IF NOT EXISTS idx_tracked_user_team ON tracked_user(team_id);

CREATE TABLE IF NOT EXISTS target_relation (
    round TEXT NOT NULL,
    user_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    source TEXT NOT NULL CHECK (source IN ('game', 'proxy', 'word-of-mouth')),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (round, user_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_target_relation_user ON target_relation(user_id);

CREATE TABLE IF NOT EXISTS elimination (
    round TEXT NOT NULL,
    user_id TEXT NOT NULL,
    eliminated_by TEXT NOT NULL,
    eliminated_at TIMESTAMP,
    PRIMARY KEY (round, user_id, eliminated_by)
);
`
