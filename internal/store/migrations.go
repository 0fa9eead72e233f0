package store

const schema = `
CREATE TABLE IF NOT EXISTS production_requests (
    request_id TEXT PRIMARY KEY,
    requester_id TEXT,
    factory_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    requested_quantity INTEGER NOT NULL CHECK (requested_quantity > 0),
    current_quantity INTEGER DEFAULT 0,
    adjustment_type TEXT NOT NULL,
    priority TEXT NOT NULL,
    response_deadline TEXT NOT NULL,
    delivery_deadline TEXT NOT NULL,
    reason TEXT,
    status TEXT NOT NULL DEFAULT 'submitted',
    status_memo TEXT,
    revision_count INTEGER DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_status ON production_requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_factory ON production_requests(factory_id);

CREATE TABLE IF NOT EXISTS status_history (
    history_id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL REFERENCES production_requests(request_id),
    previous_status TEXT,
    new_status TEXT NOT NULL,
    changed_by TEXT NOT NULL,
    change_reason TEXT,
    changed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_request ON status_history(request_id, changed_at);

CREATE TRIGGER IF NOT EXISTS status_history_no_update
BEFORE UPDATE ON status_history
BEGIN
    SELECT RAISE(ABORT, 'status_history is append-only');
END;

CREATE TRIGGER IF NOT EXISTS status_history_no_delete
BEFORE DELETE ON status_history
BEGIN
    SELECT RAISE(ABORT, 'status_history is append-only');
END;
`
