package fix

import (
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

type sentence struct {
	// Type is the sentence formatter with the talker stripped (GGA, RMC, ...).
	Type string
	// Fields holds the address field at index 0 followed by the data fields.
	Fields []string
}

// field returns f[i] trimmed, or "" when the sentence is too short.
func (s sentence) field(i int) string {
	if i < 0 || i >= len(s.Fields) {
		return ""
	}
	return strings.TrimSpace(s.Fields[i])
}

// parseSentence verifies the checksum and splits line. typed is nil when
// go-nmea has no parser for the type or rejects its fields; the raw fields
// are still returned in that case.
func parseSentence(line string) (sentence, nmea.Sentence, error) {
	var base *nmea.BaseSentence
	p := nmea.SentenceParser{
		OnBaseSentence: func(b *nmea.BaseSentence) error {
			cp := *b
			base = &cp
			return nil
		},
	}
	typed, err := p.Parse(line)
	if base == nil {
		return sentence{}, nil, err
	}
	if err != nil {
		typed = nil
	}
	fields := make([]string, 0, len(base.Fields)+1)
	fields = append(fields, base.Prefix())
	fields = append(fields, base.Fields...)
	return sentence{Type: strings.ToUpper(base.Type), Fields: fields}, typed, nil
}

// Sentence frames payload as "$payload*CK" without a line terminator.
func Sentence(payload string) string {
	return "$" + payload + "*" + nmea.Checksum(payload)
}
