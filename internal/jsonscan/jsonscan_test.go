package jsonscan

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no brackets", "just some log output", ""},
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"bare array", `[1,2,3]`, `[1,2,3]`},
		{"log prefix", "INFO booting\nWARN slow disk\n" + `[{"id":"ses_1"}]`, `[{"id":"ses_1"}]`},
		{"trailing noise", `{"a":{"b":[1]}} done.`, `{"a":{"b":[1]}}`},
		{"brace inside string", `{"t":"}{]["}`, `{"t":"}{]["}`},
		{"escaped quote", `{"t":"say \"}\" now"}`, `{"t":"say \"}\" now"}`},
		{"single quoted", `{'t':'}'}`, `{'t':'}'}`},
		{"unbalanced", `{"a":[1,2}`, ""},
		{"never closes", `{"a":1`, ""},
		{"stray close first", `] {"a":1}`, ""},
		{"first value wins", `{"a":1}{"b":2}`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.in); got != tt.want {
				t.Fatalf("Extract(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractRoundTrip(t *testing.T) {
	values := []any{
		map[string]any{"sessions": []any{map[string]any{"id": "ses_1", "title": "persistent-subagent: a", "updated": 17}}},
		[]any{"x", 1.5, true, nil, map[string]any{"nested": []any{[]any{}}}},
		map[string]any{"text": `quote " and brace } and bracket ]`},
		map[string]any{},
		[]any{},
	}
	prefixes := []string{"", "loading plugins...\n", "no brackets here: ok\n\n"}
	suffixes := []string{"", "\n", "\nbye\n"}

	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		want := string(data)
		for _, p := range prefixes {
			for _, s := range suffixes {
				got := Extract(p + want + s)
				if got != want {
					t.Fatalf("Extract(%q) = %q, want %q", p+want+s, got, want)
				}
				if again := Extract(got); again != got {
					t.Fatalf("Extract not idempotent: %q -> %q", got, again)
				}
			}
		}
	}
}

func TestDecode(t *testing.T) {
	var out struct {
		ID string `json:"id"`
	}
	if err := Decode("noise\n{\"id\":\"ses_9\"}\n", &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.ID != "ses_9" {
		t.Fatalf("ID = %q", out.ID)
	}
	if err := Decode("nothing", &out); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("err = %v, want ErrNoJSON", err)
	}
}
