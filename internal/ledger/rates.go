package ledger

import "github.com/shopspring/decimal"

// Service and operation tags recorded on every ledger entry.
const (
	ServiceSpeech   = "speech"
	ServiceStorage  = "storage"
	ServiceKV       = "kv"
	ServiceEmail    = "email"
	ServiceKeyVault = "keyvault"
	ServiceLLM      = "llm"
)

// Operation identifies a billable action with a fixed unit rate.
type Operation string

const (
	OpTranscribe   Operation = "transcribe"
	OpStoreAudio   Operation = "store_audio"
	OpStorageMonth Operation = "storage_month"
	OpKVRead       Operation = "kv_read"
	OpKVWrite      Operation = "kv_write"
	OpSendEmail    Operation = "send_email"
	OpKeyStore     Operation = "key_store"
	OpKeyRetrieve  Operation = "key_retrieve"
	OpLLMInput     Operation = "llm_input"
	OpLLMOutput    Operation = "llm_output"
)

type rate struct {
	service string
	unit    string
	perUnit decimal.Decimal
}

// Unit rates in USD. KV and LLM rates are quoted per million and per thousand
// respectively; stored here already divided down to the single unit.
var rates = map[Operation]rate{
	OpTranscribe:   {ServiceSpeech, "minute", decimal.RequireFromString("0.006")},
	OpStoreAudio:   {ServiceStorage, "gb", decimal.RequireFromString("0.023")},
	OpStorageMonth: {ServiceStorage, "gb_month", decimal.RequireFromString("0.023")},
	OpKVRead:       {ServiceKV, "read", decimal.RequireFromString("0.00000025")},
	OpKVWrite:      {ServiceKV, "write", decimal.RequireFromString("0.00000125")},
	OpSendEmail:    {ServiceEmail, "message", decimal.RequireFromString("0.0001")},
	OpKeyStore:     {ServiceKeyVault, "secret_month", decimal.RequireFromString("0.40")},
	OpKeyRetrieve:  {ServiceKeyVault, "retrieval", decimal.RequireFromString("0.05")},
	OpLLMInput:     {ServiceLLM, "token", decimal.RequireFromString("0.000003")},
	OpLLMOutput:    {ServiceLLM, "token", decimal.RequireFromString("0.000006")},
}

// Cost returns quantity * unit rate, rounded half-even to 6 decimal places.
// Unknown operations cost zero.
func Cost(op Operation, quantity decimal.Decimal) decimal.Decimal {
	r, ok := rates[op]
	if !ok {
		return decimal.Zero
	}
	return quantity.Mul(r.perUnit).RoundBank(6)
}
