package workers

import (
	"encoding/json"
	"fmt"
)

type importPayload struct {
	AccountID int64 `json:"account_id"`
}

type parsePayload struct {
	RecordID int64 `json:"record_id"`
}

func importRef(accountID int64) string {
	return fmt.Sprintf("import:%d", accountID)
}

func parseRef(recordID int64) string {
	return fmt.Sprintf("parse:%d", recordID)
}

func encodePayload(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func decodePayload(payload string, v any) error {
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("failed to decode job payload: %w", err)
	}
	return nil
}
