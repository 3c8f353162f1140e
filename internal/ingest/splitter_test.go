package ingest

import (
	"strings"
	"testing"
)

func TestSplitEmptyInput(t *testing.T) {
	s := NewSplitter(SplitterConfig{})
	if got := s.Split("   \n\n  "); got != nil {
		t.Errorf("Split(blank) = %v", got)
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(SplitterConfig{})
	chunks := s.Split("A short paragraph. It easily fits one chunk.")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks", len(chunks))
	}
}

func TestSplitRespectsTarget(t *testing.T) {
	s := NewSplitter(SplitterConfig{TargetTokens: 20, MaxTokens: 40, OverlapTokens: 0})

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("This sentence carries roughly ten tokens of filler text. ")
	}
	chunks := s.Split(b.String())
	if len(chunks) < 5 {
		t.Fatalf("got %d chunks, expected several", len(chunks))
	}
	for i, c := range chunks {
		if EstimateTokens(c) > 40 {
			t.Errorf("chunk %d is %d tokens, over the max", i, EstimateTokens(c))
		}
	}
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	s := NewSplitter(SplitterConfig{TargetTokens: 20, MaxTokens: 40, OverlapTokens: 10})

	text := "First sentence about databases here. Second sentence about indexes here. " +
		"Third sentence about queries here. Fourth sentence about caching here. " +
		"Fifth sentence about sharding here. Sixth sentence about replicas here."
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	// The second chunk starts with the tail of the first.
	firstTail := chunks[0][strings.LastIndex(chunks[0], ". ")+2:]
	if !strings.Contains(chunks[1], strings.TrimSuffix(firstTail, ".")) {
		t.Errorf("chunk 2 %q missing overlap from chunk 1 tail %q", chunks[1], firstTail)
	}
}

func TestSplitOversizedSentence(t *testing.T) {
	s := NewSplitter(SplitterConfig{TargetTokens: 10, MaxTokens: 15, OverlapTokens: 0})

	// One long run with no sentence punctuation.
	text := strings.Repeat("word ", 200)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("oversized run not split: %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if EstimateTokens(c) > 16 {
			t.Errorf("chunk %d is %d tokens", i, EstimateTokens(c))
		}
	}
}

func TestSplitKeepsDecimalNumbersTogether(t *testing.T) {
	s := NewSplitter(SplitterConfig{})
	chunks := s.Split("Pi is 3.14159 and that is fine. Another sentence.")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %v", chunks)
	}
	if !strings.Contains(chunks[0], "3.14159") {
		t.Errorf("decimal split apart: %q", chunks[0])
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty = %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Errorf("4 chars = %d", got)
	}
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Errorf("8 chars = %d", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"english", "The quick brown fox jumps over the lazy dog and it is fine.", "en"},
		{"german", "Der Hund ist nicht mit der Katze auf die Straße gegangen und das ist gut.", "de"},
		{"french", "Le chat est dans la maison et les enfants sont pour une surprise.", "fr"},
		{"spanish", "El perro es una mascota y los gatos son para la casa con niños.", "es"},
		{"russian", "Собака быстро бежала по улице и никто не заметил её.", "ru"},
		{"japanese", "これはとても簡単なテストです。", "ja"},
		{"korean", "이것은 매우 간단한 테스트입니다.", "ko"},
		{"chinese", "这是一个非常简单的测试文档。", "zh"},
		{"numbers only", "12345 67890 +++", LanguageUnknown},
		{"empty", "", LanguageUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.text); got != tt.want {
				t.Errorf("DetectLanguage = %q, want %q", got, tt.want)
			}
		})
	}
}
