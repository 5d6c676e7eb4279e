package intake

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/pkg/types"
)

type jsonRecord struct {
	ID           string           `json:"id"`
	MsgID        string           `json:"msg_id"`
	EndToEndID   string           `json:"end_to_end_id"`
	Amount       *decimal.Decimal `json:"amount"`
	Currency     string           `json:"currency"`
	Priority     string           `json:"priority"`
	Timestamp    string           `json:"timestamp"`
	CreatedAt    string           `json:"created_at"`
	DebtorName   string           `json:"debtor_name"`
	CreditorName string           `json:"creditor_name"`
	Sovereign    *bool            `json:"sovereign"`
	IsSovereign  *bool            `json:"is_sovereign"`
}

// LoadJSON accepts either an array of instruction objects or a single object.
func (n Normalizer) LoadJSON(data []byte) ([]types.PaymentInstruction, error) {
	trimmed := bytes.TrimSpace(data)
	var records []jsonRecord
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one jsonRecord
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		records = append(records, one)
	} else if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	out := make([]types.PaymentInstruction, 0, len(records))
	for i, rec := range records {
		ts := rec.Timestamp
		if ts == "" {
			ts = rec.CreatedAt
		}
		created, err := parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		instr := types.PaymentInstruction{
			ID:           firstNonEmpty(rec.ID, rec.MsgID),
			EndToEndID:   rec.EndToEndID,
			Currency:     rec.Currency,
			Priority:     types.Priority(rec.Priority),
			CreatedAt:    created,
			DebtorName:   rec.DebtorName,
			CreditorName: rec.CreditorName,
		}
		if rec.Amount != nil {
			instr.Amount = *rec.Amount
		}
		if rec.Sovereign != nil {
			instr.Sovereign = *rec.Sovereign
		} else if rec.IsSovereign != nil {
			instr.Sovereign = *rec.IsSovereign
		}
		instr, err = n.Normalize(instr)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, instr)
	}
	return out, nil
}

// LoadCSV reads a headed CSV. Only the amount column is required; column names are case-insensitive.
func (n Normalizer) LoadCSV(r io.Reader) ([]types.PaymentInstruction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse csv: missing header")
		}
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["amount"]; !ok {
		return nil, fmt.Errorf("parse csv: missing amount column")
	}

	out := []types.PaymentInstruction{}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		get := func(names ...string) string {
			for _, name := range names {
				if idx, ok := cols[name]; ok && idx < len(row) {
					if v := strings.TrimSpace(row[idx]); v != "" {
						return v
					}
				}
			}
			return ""
		}

		amount, err := decimal.NewFromString(get("amount"))
		if err != nil {
			return nil, fmt.Errorf("line %d: amount: %w", line, err)
		}
		created, err := parseTimestamp(get("timestamp", "created_at"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		instr, err := n.Normalize(types.PaymentInstruction{
			ID:           get("id", "msg_id"),
			EndToEndID:   get("end_to_end_id"),
			Amount:       amount,
			Currency:     get("currency"),
			Priority:     types.Priority(get("priority")),
			Sovereign:    parseSovereign(get("sovereign", "is_sovereign")),
			CreatedAt:    created,
			DebtorName:   get("debtor_name"),
			CreditorName: get("creditor_name"),
		})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, instr)
	}
	return out, nil
}

// LoadFile picks the decoder from the file extension.
func (n Normalizer) LoadFile(path string) ([]types.PaymentInstruction, error) {
	// #nosec G304 -- path comes from the operator's command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return n.LoadJSON(data)
	case ".csv":
		return n.LoadCSV(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
