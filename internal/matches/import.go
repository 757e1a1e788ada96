package matches

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

const maxUploadBytes = 10 << 20

// upload is a tokenized file from a multipart form.
type upload struct {
	records [][]string
	text    string
	source  Source
}

// parseUpload reads a CSV or XLSX file from a multipart form file.
func parseUpload(fh *multipart.FileHeader) (upload, error) {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	file, err := fh.Open()
	if err != nil {
		return upload{}, err
	}
	defer file.Close()

	// Cap at ~10MB; these files are small.
	b, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return upload{}, err
	}

	switch ext {
	case ".csv", ".txt":
		text := string(b)
		return upload{records: Tokenize(text), text: text, source: SourceCSVPaste}, nil
	case ".xlsx":
		records, err := parseXLSX(b)
		if err != nil {
			return upload{}, err
		}
		return upload{records: records, text: encodeCSV(records), source: SourceXLSX}, nil
	default:
		return upload{}, fmt.Errorf("unsupported file type: %s", ext)
	}
}

// parseXLSX returns the rows of the first sheet, header first.
func parseXLSX(b []byte) ([][]string, error) {
	// bytes.Reader gives excelize Reader, ReaderAt and Seeker
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("no sheet")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// encodeCSV renders records back to text for the imports log.
func encodeCSV(records [][]string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.WriteAll(records)
	return buf.String()
}
