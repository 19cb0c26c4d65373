package repository

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"phishguard/internal/config" // Import config to access SourceConfig
	"phishguard/internal/urlkey"
)

// NormalizeTarget canonicalizes a feed entry: URLs are normalized, hosts are
// lower-cased and IDNA-encoded. Public suffixes ("com", "localhost") and
// empty entries are rejected.
func NormalizeTarget(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if urlkey.IsURL(raw) {
		if urlkey.IsPublicSuffix(urlkey.Host(raw)) {
			return "", false
		}
		return urlkey.Normalize(raw), true
	}
	host := urlkey.Host(raw)
	if urlkey.IsPublicSuffix(host) {
		return "", false
	}
	return host, true
}

// ParseAndStream now takes the full SourceConfig object
func ParseAndStream(reader io.Reader, outChan chan<- Rule, src config.SourceConfig) {
	defer close(outChan)

	emit := func(raw string) {
		if target, ok := NormalizeTarget(raw); ok {
			outChan <- Rule{Target: target, Source: src.Name, Action: ActionBlock}
		}
	}

	switch src.Format {
	case "csv":
		parseCSV(reader, emit, src)
	case "text":
		parseText(reader, emit)
	case "json":
		parseJSON(reader, emit, src)
	case "hosts":
		fallthrough
	default:
		parseHosts(reader, emit)
	}
}

// 1. HOSTS Format Parser (Standard)
func parseHosts(reader io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		// 0.0.0.0 domain.com [alias.com ...]
		parts := strings.Fields(line)
		for _, host := range parts[min(1, len(parts)):] {
			emit(host)
		}
	}
}

// 2. TEXT Format Parser (One host or URL per line)
func parseText(reader io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		emit(line)
	}
}

// 3. CSV Format Parser (Column aware)
func parseCSV(reader io.Reader, emit func(string), src config.SourceConfig) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	// Read Header
	header, err := csvReader.Read()
	if err != nil {
		log.Warn().Err(err).Str("source", src.Name).Msg("failed to read CSV header")
		return
	}

	// Find the index of the target column
	targetIndex := -1
	targetCol := strings.ToLower(src.TargetColumn)

	for i, col := range header {
		if strings.ToLower(strings.TrimSpace(col)) == targetCol {
			targetIndex = i
			break
		}
	}

	if targetIndex == -1 {
		log.Warn().Str("column", src.TargetColumn).Str("source", src.Name).Msg("column not found in CSV")
		return
	}

	// Stream rows
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		if len(record) > targetIndex {
			emit(record[targetIndex])
		}
	}
}

// 4. JSON Format Parser: a top-level array of strings, or of objects whose
// TargetColumn field holds the host or URL.
func parseJSON(reader io.Reader, emit func(string), src config.SourceConfig) {
	var items []any
	if err := json.NewDecoder(reader).Decode(&items); err != nil {
		log.Warn().Err(err).Str("source", src.Name).Msg("failed to decode JSON feed")
		return
	}

	for _, item := range items {
		switch v := item.(type) {
		case string:
			emit(v)
		case map[string]any:
			if s, ok := v[src.TargetColumn].(string); ok {
				emit(s)
			}
		}
	}
}
