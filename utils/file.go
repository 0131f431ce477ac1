package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// RecipientLine is one row of a recipients file: an address and a human readable amount.
type RecipientLine struct {
	Line    int
	Address string
	Amount  string
}

// ReadRecipients reads "address,amount" rows. Blank lines and lines starting with # are skipped.
func ReadRecipients(path string) ([]RecipientLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipients file %s: %w", path, err)
	}
	defer f.Close()

	return ParseRecipients(f)
}

func ParseRecipients(r io.Reader) ([]RecipientLine, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	ret := make([]RecipientLine, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		line, _ := reader.FieldPos(0)
		if len(record) != 2 {
			return nil, fmt.Errorf("line %d: expected address,amount but got %d fields", line, len(record))
		}

		ret = append(ret, RecipientLine{
			Line:    line,
			Address: strings.TrimSpace(record[0]),
			Amount:  strings.TrimSpace(record[1]),
		})
	}

	return ret, nil
}
