package evaluation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadJudgments parses whitespace separated judgment lines. Three fields are
// read as "query doc grade"; four as "query region doc grade", the layout of
// the Yandex relevance labels. Blank lines and lines starting with # are
// ignored.
func ReadJudgments(r io.Reader) ([]RelevanceJudgment, error) {
	var out []RelevanceJudgment
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		var query, doc, grade string
		switch len(fields) {
		case 3:
			query, doc, grade = fields[0], fields[1], fields[2]
		case 4:
			query, doc, grade = fields[0], fields[2], fields[3]
		default:
			return nil, fmt.Errorf("line %d: expected 3 or 4 fields, got %d", line, len(fields))
		}

		g, err := strconv.Atoi(grade)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid grade %q: %w", line, grade, err)
		}
		out = append(out, RelevanceJudgment{Query: query, Doc: doc, Relevance: g})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading judgments: %w", err)
	}
	return out, nil
}

// ReadJudgmentsFile reads judgments from path.
func ReadJudgmentsFile(path string) ([]RelevanceJudgment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open judgments: %w", err)
	}
	defer f.Close()
	return ReadJudgments(f)
}
