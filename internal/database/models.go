package database

import "time"

// WalletRow is the relational-store row backing internal/domain's wallet
// references.
type WalletRow struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TrackedTokenRow records a mint this node has observed or traded.
type TrackedTokenRow struct {
	ID          string     `json:"id"`
	MintAddress string     `json:"mint_address"`
	Symbol      string     `json:"symbol,omitempty"`
	Deployer    string     `json:"deployer,omitempty"`
	LaunchedAt  *time.Time `json:"launched_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PositionRow is the persisted form of domain.PositionState.
type PositionRow struct {
	ID              string     `json:"id"`
	WalletID        string     `json:"wallet_id"`
	MintAddress     string     `json:"mint_address"`
	EntryAmountBase float64    `json:"entry_amount_base"`
	TokenBalance    uint64     `json:"token_balance"`
	EntryPrice      *float64   `json:"entry_price,omitempty"`
	Status          string     `json:"status"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PolicyRow is the persisted form of a policy-engine rule.
type PolicyRow struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	TriggerType string                 `json:"trigger_type"`
	Params      map[string]interface{} `json:"params"`
	Action      string                 `json:"action"`
	Priority    int                    `json:"priority"`
	Enabled     bool                   `json:"enabled"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// ExecutionRow is the persisted form of domain.ExecutionResult.
type ExecutionRow struct {
	ID           string     `json:"id"`
	PositionID   string     `json:"position_id"`
	Action       string     `json:"action"`
	Status       string     `json:"status"`
	TxSignature  string     `json:"tx_signature,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RequestedAt  time.Time  `json:"requested_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// EventLogRow is the durable audit trail of every InternalEvent ingested.
type EventLogRow struct {
	ID         string                 `json:"id"`
	EventType  string                 `json:"event_type"`
	Slot       uint64                 `json:"slot"`
	Signature  string                 `json:"signature,omitempty"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
	CreatedAt  time.Time              `json:"created_at"`
}
