package event

import (
	"encoding/json"
)

// Event is the serialized form of a single matched transaction. It is
// immutable once emitted; consumers dedup on TxHash + Contract.
type Event struct {
	TenantID       string `json:"tenantId"`
	Contract       string `json:"contract"`
	TxHash         string `json:"txHash"`
	Block          uint64 `json:"blockNumber"`
	Timestamp      uint64 `json:"timestamp"`
	From           string `json:"from"`
	To             string `json:"to"`
	MethodSelector string `json:"methodSelector"`
	GasUsed        uint64 `json:"gasUsed"`
	// Fee components in wei, serialized as decimal strings to survive
	// consumers that parse JSON numbers as float64.
	EffectiveGasPrice string `json:"effectiveGasPrice"`
	BaseFee           string `json:"baseFee"`
	PriorityFee       string `json:"priorityFee"`
	// Cost in whole native units, an exact fixed-point decimal string.
	Cost string `json:"cost"`
}

func (e Event) Serialize() ([]byte, error) {
	return json.Marshal(e)
}
