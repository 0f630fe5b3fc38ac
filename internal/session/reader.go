package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
)

const maxLineSize = 4 << 20

// ReadStats summarises one pass over a session log.
type ReadStats struct {
	Lines    int
	Sessions int
	Rejected int
	// Samples keeps the first few rejection reasons for reporting.
	Samples []string
}

const maxSamples = 5

func (st *ReadStats) reject(line int, err error) {
	st.Rejected++
	if len(st.Samples) < maxSamples {
		st.Samples = append(st.Samples, fmt.Sprintf("line %d: %v", line, err))
	}
}

// ReadRecords parses the tab separated session log:
//
//	uid query region [urls] [clicks] [relevance] [click_times] vertical_position vertical_click vertical_click_time
//
// The trailing relevance, click time and vertical fields are optional. -1
// marks an unknown relevance grade, a missing click time and the absence of a
// vertical block. Lines that do not parse, or that fail Validate(maxRank), are
// skipped and counted.
func ReadRecords(r io.Reader, maxRank int) ([]*Session, ReadStats, error) {
	var (
		sessions []*Session
		stats    ReadStats
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		stats.Lines++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		s, err := ParseRecord(line)
		if err == nil {
			err = s.Validate(maxRank)
		}
		if err != nil {
			stats.reject(stats.Lines, err)
			continue
		}
		sessions = append(sessions, s)
		stats.Sessions++
	}
	if err := scanner.Err(); err != nil {
		return sessions, stats, fmt.Errorf("reading sessions: %w", err)
	}

	return sessions, stats, nil
}

// ReadRecordsFile opens path and calls ReadRecords.
func ReadRecordsFile(path string, maxRank int) ([]*Session, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close()

	return ReadRecords(f, maxRank)
}

// ParseRecord parses a single session log line.
func ParseRecord(line string) (*Session, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 5 {
		return nil, apperrors.MalformedSessionError(
			fmt.Sprintf("expected at least 5 tab separated fields, got %d", len(fields)))
	}

	s := &Session{
		UID:    fields[0],
		Query:  fields[1],
		Region: fields[2],
	}

	docs, err := parseList(fields[3])
	if err != nil {
		return nil, malformed("urls", err)
	}
	clickVals, err := parseList(fields[4])
	if err != nil {
		return nil, malformed("clicks", err)
	}
	if len(clickVals) != len(docs) {
		return nil, apperrors.MalformedSessionError(
			fmt.Sprintf("%d urls but %d clicks", len(docs), len(clickVals)))
	}

	s.Results = make([]Result, len(docs))
	for i, d := range docs {
		click, err := parseBool(clickVals[i])
		if err != nil {
			return nil, malformed("clicks", err)
		}
		s.Results[i] = Result{Doc: d, Click: click, Relevance: NoRelevance, ClickTime: NoClickTime}
	}

	if len(fields) > 5 {
		rels, err := parseList(fields[5])
		if err != nil {
			return nil, malformed("relevance", err)
		}
		if len(rels) > 0 {
			if len(rels) != len(docs) {
				return nil, apperrors.MalformedSessionError(
					fmt.Sprintf("%d urls but %d relevance grades", len(docs), len(rels)))
			}
			for i, v := range rels {
				grade, err := parseGrade(v)
				if err != nil {
					return nil, malformed("relevance", err)
				}
				s.Results[i].Relevance = grade
			}
		}
	}

	if len(fields) > 6 {
		times, err := parseList(fields[6])
		if err != nil {
			return nil, malformed("click_times", err)
		}
		if len(times) > 0 {
			if len(times) != len(docs) {
				return nil, apperrors.MalformedSessionError(
					fmt.Sprintf("%d urls but %d click times", len(docs), len(times)))
			}
			for i, v := range times {
				ts, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return nil, malformed("click_times", err)
				}
				s.Results[i].ClickTime = ts
			}
		}
	}

	if len(fields) > 7 {
		v, err := parseVertical(fields[7:])
		if err != nil {
			return nil, malformed("vertical", err)
		}
		s.Vertical = v
	}

	return s, nil
}

func malformed(field string, err error) error {
	return apperrors.Wrap(apperrors.CodeMalformedSession, "bad "+field+" field", err).
		WithDetail("field", field)
}

// parseList decodes a bracketed list such as [a, b] or ["a","b"]. YAML flow
// sequences accept both quoted and bare items.
func parseList(field string) ([]string, error) {
	field = strings.TrimSpace(field)
	if field == "" || field == "-1" {
		return nil, nil
	}
	if !strings.HasPrefix(field, "[") || !strings.HasSuffix(field, "]") {
		return nil, fmt.Errorf("list %q is not bracketed", field)
	}
	var items []string
	if err := yaml.Unmarshal([]byte(field), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid click value %q", v)
}

func parseGrade(v string) (int, error) {
	v = strings.TrimSpace(v)
	if i, err := strconv.Atoi(v); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid relevance grade %q", v)
	}
	return int(f), nil
}

func parseVertical(fields []string) (*Vertical, error) {
	pos, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, err
	}
	if pos < 0 {
		return nil, nil
	}
	v := &Vertical{Position: pos, ClickTime: NoClickTime}
	if len(fields) > 1 {
		if v.Click, err = parseBool(fields[1]); err != nil {
			return nil, err
		}
	}
	if len(fields) > 2 {
		if v.ClickTime, err = strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// FormatRecord renders s in the format read by ParseRecord.
func FormatRecord(s *Session) string {
	docs := make([]string, len(s.Results))
	clicks := make([]string, len(s.Results))
	rels := make([]string, len(s.Results))
	times := make([]string, len(s.Results))
	for i, r := range s.Results {
		docs[i] = strconv.Quote(r.Doc)
		clicks[i] = "0"
		if r.Click {
			clicks[i] = "1"
		}
		rels[i] = strconv.Itoa(r.Relevance)
		times[i] = strconv.FormatInt(r.ClickTime, 10)
	}

	vpos, vclick, vtime := "-1", "0", "-1"
	if v := s.Vertical; v != nil {
		vpos = strconv.Itoa(v.Position)
		if v.Click {
			vclick = "1"
		}
		vtime = strconv.FormatInt(v.ClickTime, 10)
	}

	return strings.Join([]string{
		s.UID, s.Query, s.Region,
		"[" + strings.Join(docs, ", ") + "]",
		"[" + strings.Join(clicks, ", ") + "]",
		"[" + strings.Join(rels, ", ") + "]",
		"[" + strings.Join(times, ", ") + "]",
		vpos, vclick, vtime,
	}, "\t")
}
