// Package credentials reads (username, auth_token) pairs from a
// tab-separated input file.
package credentials

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"xharvest/pkg/errors"
)

// Credential is one account's input pair
type Credential struct {
	Username  string
	AuthToken string
}

// ParseError records a non-blank line that failed to parse. Parse
// errors are accumulated and reported at the end of the run; they
// never abort the batch.
type ParseError struct {
	LineNumber int
	Text       string
	Err        error
}

// Load reads credentials from path, preserving input order. Blank
// lines and '#' comments are skipped silently, as is a leading header
// row. Returns the parsed credentials together with any per-line
// parse errors; a missing or unreadable file is a fatal input error.
func Load(path string) ([]Credential, []ParseError, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrorTypeInput, fmt.Sprintf("open credentials file %s", path), err)
	}
	defer file.Close()

	var creds []Credential
	var parseErrs []ParseError

	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Skip an exported header row
		if strings.HasPrefix(strings.ToLower(line), "username") {
			continue
		}

		cred, err := parseLine(line)
		if err != nil {
			parseErrs = append(parseErrs, ParseError{
				LineNumber: lineNumber,
				Text:       line,
				Err:        err,
			})
			continue
		}

		creds = append(creds, cred)
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(errors.ErrorTypeInput, fmt.Sprintf("read credentials file %s", path), err)
	}

	return creds, parseErrs, nil
}

// parseLine splits one record into its two fields. Tab is the field
// separator; lines without a tab fall back to whitespace splitting to
// accept hand-edited files. Fields beyond the second are ignored.
func parseLine(line string) (Credential, error) {
	var parts []string
	if strings.Contains(line, "\t") {
		parts = strings.Split(line, "\t")
	} else {
		parts = strings.Fields(line)
	}

	fields := make([]string, 0, 2)
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}

	if len(fields) < 2 {
		return Credential{}, errors.New(errors.ErrorTypeMalformedLine,
			fmt.Sprintf("expected username and auth_token, got %d field(s)", len(fields)))
	}

	return Credential{
		Username:  fields[0],
		AuthToken: fields[1],
	}, nil
}
