package types

import "encoding/json"

type outcomeJson struct {
	Index       int     `json:"index"`
	Recipient   string  `json:"recipient"`
	Asset       string  `json:"asset"`
	Amount      string  `json:"amount"`
	Status      string  `json:"status"`
	TxHash      string  `json:"tx_hash,omitempty"`
	Nonce       *uint64 `json:"nonce,omitempty"`
	BlockNumber uint64  `json:"block_number,omitempty"`
	Failure     string  `json:"failure,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type reportJson struct {
	Summary   string        `json:"summary"`
	Confirmed int           `json:"confirmed"`
	Failed    int           `json:"failed"`
	Outcomes  []outcomeJson `json:"outcomes"`
}

func (r *BatchReport) MarshalJSON() ([]byte, error) {
	out := reportJson{
		Summary:   r.Summary(),
		Confirmed: r.Confirmed(),
		Failed:    r.Failed(),
		Outcomes:  make([]outcomeJson, len(r.Outcomes)),
	}

	for i, o := range r.Outcomes {
		entry := outcomeJson{
			Index:       i,
			Status:      o.Status.String(),
			BlockNumber: o.BlockNumber,
		}

		if o.Request != nil {
			entry.Recipient = o.Request.Recipient()
			entry.Asset = o.Request.Asset().String()
			if o.Request.amount != nil {
				entry.Amount = o.Request.amount.String()
			}
		}

		if o.Submitted() {
			nonce := o.Nonce
			entry.TxHash = o.TxHash.Hex()
			entry.Nonce = &nonce
		}

		if o.Status == StatusFailed {
			entry.Failure = o.Failure.String()
		}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}

		out.Outcomes[i] = entry
	}

	return json.Marshal(out)
}
