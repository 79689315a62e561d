package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the wrapper the backend puts around most replies. RefreshToken
// is only sent by backends that support the refresh endpoint.
type Envelope struct {
	IsSuccess    bool            `json:"IsSuccess"`
	Message      string          `json:"Message"`
	Token        string          `json:"Token"`
	RefreshToken string          `json:"RefreshToken,omitempty"`
	Data1        json.RawMessage `json:"Data1"`
	Data2        json.RawMessage `json:"Data2"`
}

func DecodeEnvelope(resp *Response) (*Envelope, error) {
	var env Envelope
	if err := resp.Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Err is nil for a successful envelope. Otherwise it returns a DomainError
// with the backend message, or fallback when the backend sent none.
func (e *Envelope) Err(fallback string) error {
	if e.IsSuccess {
		return nil
	}
	msg := e.Message
	if msg == "" {
		msg = fallback
	}
	return &DomainError{Message: msg}
}

// Records decodes Data1 as a list of loosely typed records. Numbers are kept
// as json.Number. A missing or null Data1 yields an empty list.
func (e *Envelope) Records() ([]map[string]interface{}, error) {
	records := []map[string]interface{}{}
	if len(e.Data1) == 0 || string(e.Data1) == "null" {
		return records, nil
	}
	dec := json.NewDecoder(bytes.NewReader(e.Data1))
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode Data1: %w", err)
	}
	return records, nil
}
