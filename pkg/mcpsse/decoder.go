package mcpsse

import "strings"

// Decoder incrementally parses an SSE byte stream that may arrive in
// arbitrary chunks — a single Feed call might carry half a field line, or
// several whole events. It accumulates state across calls so callers can
// feed it directly from an io.Reader's Read buffer without doing their own
// line reassembly.
type Decoder struct {
	buf     strings.Builder // bytes not yet resolved into a full line
	current Event           // event fields accumulated so far
	hasData bool            // whether current has seen at least one data: line
}

// Feed appends newly-read bytes to the decoder and returns every complete
// event found so far. Incomplete trailing data is retained for the next
// Feed call.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf.Write(chunk)
	raw := d.buf.String()

	var events []Event
	for {
		idx := strings.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := raw[:idx]
		raw = raw[idx+1:]
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			// blank line: dispatch event if it had at least one data line
			if d.hasData {
				events = append(events, d.current)
			}
			d.current = Event{}
			d.hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			// comment line, ignored (keep-alives)
			continue
		}
		d.applyField(line)
	}

	d.buf.Reset()
	d.buf.WriteString(raw)
	return events
}

func (d *Decoder) applyField(line string) {
	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		d.current.Event = value
	case "id":
		d.current.ID = value
	case "retry":
		d.current.Retry = value
	case "data":
		if d.hasData {
			d.current.Data += "\n" + value
		} else {
			d.current.Data = value
		}
		d.hasData = true
	default:
		// unknown field, ignored per the SSE spec
	}
}
