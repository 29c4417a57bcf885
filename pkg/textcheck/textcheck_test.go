package textcheck

import (
	"math"
	"testing"
)

func TestCheck_ShortInputNeutral(t *testing.T) {
	c := New()
	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "three chars real word", text: "the"},
		{name: "three chars gibberish", text: "xqz"},
		{name: "four chars", text: "abcd"},
		// three runes, nine bytes: the cutoff counts characters, not bytes
		{name: "three multibyte runes", text: "日本語"},
		{name: "four accented runes", text: "café"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Check(tt.text).Quality; got != NeutralQuality {
				t.Errorf("Check(%q).Quality = %f, want %f", tt.text, got, NeutralQuality)
			}
		})
	}
}

func TestCheck_Quality(t *testing.T) {
	c := New()
	tests := []struct {
		name string
		text string
		want float64
	}{
		{name: "all recognized", text: "the quick brown fox", want: 100},
		{name: "all gibberish", text: "xqzvw kjhgf plmnb", want: 0},
		{name: "half recognized", text: "hello world zzxqv wqpfj", want: 50},
		{name: "punctuation stripped", text: "hello, world!", want: 100},
		{name: "no tokens", text: "!!! ???", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Check(tt.text).Quality; math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Check(%q).Quality = %f, want %f", tt.text, got, tt.want)
			}
		})
	}
}

func TestCheck_Gibberish(t *testing.T) {
	c := New()
	tests := []struct {
		name string
		text string
		want bool
	}{
		// 7 of 10 tokens unrecognized: ratio 0.7 > 0.6
		{name: "seventy percent unknown", text: "hello world today qqq www eee rrr ttt yyy uuu", want: true},
		// 6 of 10 unrecognized: ratio 0.6 is not strictly above the threshold
		{name: "sixty percent unknown", text: "hello world today from qqq www eee rrr ttt yyy", want: false},
		{name: "clean sentence", text: "can you check my account balance today", want: false},
		{name: "pure noise", text: "asdfgh qwerty zxcvb", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Check(tt.text)
			if res.Gibberish != tt.want {
				t.Errorf("Check(%q).Gibberish = %v, want %v", tt.text, res.Gibberish, tt.want)
			}
			wantPenalty := 0.0
			if tt.want {
				wantPenalty = 50.0
			}
			if res.ConfidencePenalty != wantPenalty {
				t.Errorf("Check(%q).ConfidencePenalty = %f, want %f", tt.text, res.ConfidencePenalty, wantPenalty)
			}
		})
	}
}
