package ledger

// Holding is one asset balance on an account.
type Holding struct {
	AssetID  uint64 `json:"asset_id"`
	Amount   uint64 `json:"amount"`
	IsFrozen bool   `json:"is_frozen"`
}

// Asset describes a new soulbound asset. Freeze and clawback stay with the issuer.
type Asset struct {
	Name     string `json:"name"`
	UnitName string `json:"unit_name"`
	Total    uint64 `json:"total"`
	URL      string `json:"url,omitempty"`
}

// OptInTxn is an unsigned opt-in transaction for the claimant's wallet to sign.
type OptInTxn struct {
	Txn     string `json:"txn"`
	AssetID uint64 `json:"asset_id"`
}

// Proof is the on-chain attestation record written after a claim.
type Proof struct {
	EventID    string `json:"event_id"`
	Attendee   string `json:"attendee"`
	ImageHash  string `json:"image_hash"`
	Confidence int    `json:"confidence"`
	AssetID    uint64 `json:"asset_id"`
	TransferTx string `json:"transfer_tx_id"`
}

type createAssetRequest struct {
	Asset
	Decimals      int    `json:"decimals"`
	DefaultFrozen bool   `json:"default_frozen"`
	Manager       string `json:"manager,omitempty"`
	Reserve       string `json:"reserve,omitempty"`
	Freeze        string `json:"freeze,omitempty"`
	Clawback      string `json:"clawback,omitempty"`
}

type createAssetResponse struct {
	AssetID uint64 `json:"asset_id"`
	TxID    string `json:"tx_id"`
}

type transferRequest struct {
	AssetID        uint64 `json:"asset_id"`
	Receiver       string `json:"receiver"`
	Amount         uint64 `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type freezeRequest struct {
	AssetID        uint64 `json:"asset_id"`
	Target         string `json:"target"`
	Frozen         bool   `json:"frozen"`
	IdempotencyKey string `json:"idempotency_key"`
}

type optInRequest struct {
	AssetID uint64 `json:"asset_id"`
	Sender  string `json:"sender"`
}

type txResponse struct {
	TxID string `json:"tx_id"`
}

type txStatus struct {
	TxID           string `json:"tx_id"`
	ConfirmedRound uint64 `json:"confirmed_round"`
	PoolError      string `json:"pool_error"`
}

type holdingsResponse struct {
	Assets []Holding `json:"assets"`
}
