package session

import (
	"strings"
	"testing"
)

func TestParseRecord(t *testing.T) {
	line := "u1\tweather\t213\t[\"a\", \"b\", \"c\"]\t[1, 0, 1]\t[2, -1, 0]\t[15, -1, 40]\t1\t1\t22"

	s, err := ParseRecord(line)
	if err != nil {
		t.Fatalf("ParseRecord() error = %v", err)
	}

	if s.UID != "u1" || s.Query != "weather" || s.Region != "213" {
		t.Errorf("header fields = %q %q %q", s.UID, s.Query, s.Region)
	}
	if got := strings.Join(s.Docs(), ","); got != "a,b,c" {
		t.Errorf("Docs() = %s", got)
	}
	if clicks := s.Clicks(); !clicks[0] || clicks[1] || !clicks[2] {
		t.Errorf("Clicks() = %v", clicks)
	}
	if s.Results[0].Relevance != 2 || s.Results[1].Relevance != NoRelevance {
		t.Errorf("relevance = %d, %d", s.Results[0].Relevance, s.Results[1].Relevance)
	}
	if s.Results[2].ClickTime != 40 || s.Results[1].ClickTime != NoClickTime {
		t.Errorf("click times = %d, %d", s.Results[2].ClickTime, s.Results[1].ClickTime)
	}
	if s.Vertical == nil || s.Vertical.Position != 1 || !s.Vertical.Click || s.Vertical.ClickTime != 22 {
		t.Errorf("Vertical = %+v", s.Vertical)
	}
}

func TestParseRecord_Variants(t *testing.T) {
	tests := []struct {
		name         string
		line         string
		wantErr      bool
		wantVertical bool
	}{
		{"minimal", "u\tq\tr\t[a, b]\t[0, 1]", false, false},
		{"bare words and booleans", "u\tq\tr\t[a, b]\t[true, false]", false, false},
		{"no vertical", "u\tq\tr\t[a]\t[0]\t[-1]\t[-1]\t-1\t0\t-1", false, false},
		{"empty optional lists", "u\tq\tr\t[a]\t[0]\t[]\t[]", false, false},
		{"too few fields", "u\tq\tr\t[a]", true, false},
		{"click mismatch", "u\tq\tr\t[a, b]\t[0]", true, false},
		{"relevance mismatch", "u\tq\tr\t[a, b]\t[0, 1]\t[1]", true, false},
		{"not a list", "u\tq\tr\ta,b\t[0, 1]", true, false},
		{"bad click", "u\tq\tr\t[a]\t[2]", true, false},
		{"bad vertical", "u\tq\tr\t[a]\t[0]\t[-1]\t[-1]\tx", true, false},
		{"vertical", "u\tq\tr\t[a, b]\t[0, 0]\t[-1, -1]\t[-1, -1]\t0\t0\t-1", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseRecord(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRecord() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s.HasVertical() != tt.wantVertical {
				t.Errorf("HasVertical() = %v, want %v", s.HasVertical(), tt.wantVertical)
			}
		})
	}
}

func TestReadRecords(t *testing.T) {
	input := strings.Join([]string{
		"u1\tq1\tr\t[a, b]\t[1, 0]",
		"",
		"# comment",
		"u2\tq1\tr\t[a, b]\t[1]",
		"u3\tq2\tr\t[a, b, c]\t[0, 0, 0]",
		"u4\tq2\tr\t[a, b]\t[0, 1]\t[-1, -1]\t[-1, -1]\t5\t0\t-1",
	}, "\n")

	sessions, stats, err := ReadRecords(strings.NewReader(input), 2)
	if err != nil {
		t.Fatalf("ReadRecords() error = %v", err)
	}

	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if stats.Sessions != 1 || stats.Rejected != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.Samples) != 3 {
		t.Errorf("Samples = %v", stats.Samples)
	}
}

func TestFormatRecord_ParsesBack(t *testing.T) {
	s := New("q", []string{"doc one", "d2"}, []bool{false, true})
	s.UID = "u"
	s.Region = "1"
	s.Results[1].Relevance = 3
	s.Vertical = &Vertical{Position: 1, Click: true, ClickTime: 7}

	got, err := ParseRecord(FormatRecord(s))
	if err != nil {
		t.Fatalf("ParseRecord(FormatRecord()) error = %v", err)
	}
	if got.Results[0].Doc != "doc one" || !got.Results[1].Click || got.Results[1].Relevance != 3 {
		t.Errorf("round trip results = %+v", got.Results)
	}
	if got.Vertical == nil || *got.Vertical != *s.Vertical {
		t.Errorf("round trip vertical = %+v", got.Vertical)
	}
}

func TestReadYandex(t *testing.T) {
	input := strings.Join([]string{
		"1\t0\tQ\t10\t5\td1\td2\td3",
		"1\t3\tC\td2",
		"1\t9\tC\td9",
		"2\t0\tQ\t11\t5\td4\td5",
		"3\t4\tC\td4",
		"garbage",
		"3\t0\tQ\t12\t5\td6",
	}, "\n")

	sessions, stats, err := ReadYandex(strings.NewReader(input), 10, 0)
	if err != nil {
		t.Fatalf("ReadYandex() error = %v", err)
	}
	if len(sessions) != 3 || stats.Sessions != 3 {
		t.Fatalf("got %d sessions", len(sessions))
	}

	if sessions[0].Query != "10" || !sessions[0].Results[1].Click || sessions[0].ClickCount() != 1 {
		t.Errorf("session 1 = %+v", sessions[0])
	}
	if sessions[1].ClickCount() != 0 {
		t.Error("click of another session must not leak")
	}

	limited, _, err := ReadYandex(strings.NewReader(input), 10, 2)
	if err != nil {
		t.Fatalf("ReadYandex(max=2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ReadYandex(max=2) returned %d sessions", len(limited))
	}
}
