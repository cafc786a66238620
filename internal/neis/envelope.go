package neis

import (
	"encoding/json"
	"fmt"
)

const (
	codeOK     = "INFO-000"
	codeNoData = "INFO-200"
)

type resultBlock struct {
	Code    string `json:"CODE"`
	Message string `json:"MESSAGE"`
}

func (r resultBlock) err() error {
	switch r.Code {
	case codeOK, "":
		return nil
	case codeNoData:
		return ErrNoData
	default:
		return &APIError{Code: r.Code, Message: r.Message}
	}
}

// section is one element of the dataset array: either a head or rows.
type section[T any] struct {
	Head []struct {
		ListTotalCount int          `json:"list_total_count"`
		Result         *resultBlock `json:"RESULT"`
	} `json:"head"`
	Row []T `json:"row"`
}

// checkResult validates the RESULT codes of a body without decoding rows.
func checkResult(body []byte, service string) error {
	_, err := decodeRows[json.RawMessage](body, service)
	return err
}

// decodeRows unpacks
//
//	{"<service>":[{"head":[{"list_total_count":n},{"RESULT":{...}}]},{"row":[...]}]}
//
// or the bare {"RESULT":{...}} NEIS sends when nothing matched.
func decodeRows[T any](body []byte, service string) ([]T, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("neis: decode %s: %w", service, err)
	}

	if raw, ok := top["RESULT"]; ok {
		var r resultBlock
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("neis: decode %s result: %w", service, err)
		}
		if err := r.err(); err != nil {
			return nil, err
		}
	}

	raw, ok := top[service]
	if !ok {
		return nil, fmt.Errorf("neis: %s missing from response", service)
	}

	var sections []section[T]
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("neis: decode %s rows: %w", service, err)
	}

	rows := make([]T, 0)
	for _, s := range sections {
		for _, h := range s.Head {
			if h.Result == nil {
				continue
			}
			if err := h.Result.err(); err != nil {
				return nil, err
			}
		}
		rows = append(rows, s.Row...)
	}
	return rows, nil
}
