package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"fixedlend/integrations/indexer"
)

var csvHeader = []string{"id", "type", "market", "account", "attributes", "recorded_at"}

// EventsCSV serialises indexed events as CSV and returns the payload with
// its SHA-256 checksum. Attributes are embedded as a JSON object column.
func EventsCSV(records []indexer.EventRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		attributes := rec.Attributes
		if attributes == "" {
			attributes = "{}"
		}
		row := []string{
			fmt.Sprintf("%d", rec.ID),
			rec.Type,
			rec.Market,
			rec.Account,
			attributes,
			rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

// EventsJSONL serialises indexed events as JSON Lines with decoded
// attributes.
func EventsJSONL(records []indexer.EventRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, rec := range records {
		attrs, err := rec.Decode()
		if err != nil {
			return nil, "", err
		}
		payload := map[string]interface{}{
			"id":          rec.ID,
			"type":        rec.Type,
			"market":      rec.Market,
			"account":     rec.Account,
			"attributes":  attrs,
			"recorded_at": rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}

func checksummed(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
