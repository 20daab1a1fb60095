package backend

import "strings"

// sseParser extracts whole SSE records from a growing response body. State
// is per request: processed marks how far into the body previous calls got,
// and data holds the lines of a record whose blank-line terminator has not
// arrived yet. Feeding the same prefix twice emits nothing new, so N calls
// on growing prefixes produce the same record sequence as one call on the
// full body.
type sseParser struct {
	processed int
	data      []string
}

// feed consumes the suffix of body beyond the processed offset, up to the
// last complete line, and returns any records terminated within it.
func (p *sseParser) feed(body string) []string {
	if len(body) <= p.processed {
		return nil
	}
	chunk := body[p.processed:]
	end := strings.LastIndexByte(chunk, '\n')
	if end < 0 {
		// No complete line yet; wait for more of the body.
		return nil
	}
	p.processed += end + 1

	var records []string
	for _, line := range strings.Split(chunk[:end], "\n") {
		if record, ok := p.consumeLine(line); ok {
			records = append(records, record)
		}
	}
	return records
}

// finish flushes the tail at end of stream: a trailing line without a
// newline still counts, and an unterminated record is emitted as-is.
func (p *sseParser) finish(body string) []string {
	var records []string
	if p.processed < len(body) {
		line := body[p.processed:]
		p.processed = len(body)
		if record, ok := p.consumeLine(line); ok {
			records = append(records, record)
		}
	}
	if len(p.data) > 0 {
		records = append(records, strings.Join(p.data, "\n"))
		p.data = nil
	}
	return records
}

// consumeLine advances the record state by one line. A blank line terminates
// the in-progress record; multiple data: lines of one record concatenate
// with a newline; comment lines and unknown fields are skipped.
func (p *sseParser) consumeLine(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		if len(p.data) == 0 {
			return "", false
		}
		record := strings.Join(p.data, "\n")
		p.data = nil
		return record, true
	}
	if strings.HasPrefix(line, ":") {
		return "", false
	}
	if strings.HasPrefix(line, "data: ") {
		p.data = append(p.data, line[len("data: "):])
	}
	return "", false
}
