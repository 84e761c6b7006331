package speech

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSimplifyRepeatedText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "a b a b a b c", want: "a b c"},
		{in: "hello world", want: "hello world"},
		{in: "", want: ""},
		{in: "je suis je suis content", want: "je suis content"},
		{in: "bonjour bonjour bonjour", want: "bonjour bonjour bonjour"},
		{in: "je voudrais un café je voudrais un café s'il vous plaît", want: "je voudrais un café s'il vous plaît"},
		{in: "un deux trois quatre", want: "un deux trois quatre"},
	}
	for _, tc := range cases {
		if got := SimplifyRepeatedText(tc.in); got != tc.want {
			t.Fatalf("SimplifyRepeatedText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitChunksPacksSentences(t *testing.T) {
	text := "Bonjour tout le monde. Comment allez vous? Très bien merci."
	got := SplitChunks(text, 30)
	want := []string{"Bonjour tout le monde.", "Comment allez vous?", "Très bien merci."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitChunks() = %#v, want %#v", got, want)
	}

	got = SplitChunks(text, 45)
	want = []string{"Bonjour tout le monde. Comment allez vous?", "Très bien merci."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitChunks(45) = %#v, want %#v", got, want)
	}
}

func TestSplitChunksRespectsLimitAndKeepsWords(t *testing.T) {
	text := strings.Repeat("Le chat mange une souris très rapidement aujourd'hui. ", 12) +
		"Anticonstitutionnellement" + strings.Repeat("x", 40) + " fin!"
	for _, limit := range []int{10, 25, 50, 200} {
		chunks := SplitChunks(text, limit)
		if len(chunks) == 0 {
			t.Fatalf("limit %d: no chunks", limit)
		}
		for _, c := range chunks {
			if n := utf8.RuneCountInString(c); n > limit {
				t.Fatalf("limit %d: chunk %q has %d runes", limit, c, n)
			}
			if strings.TrimSpace(c) == "" {
				t.Fatalf("limit %d: empty chunk", limit)
			}
		}
		joined := strings.Join(chunks, "")
		if strings.ReplaceAll(joined, " ", "") != strings.ReplaceAll(text, " ", "") {
			t.Fatalf("limit %d: content changed", limit)
		}
	}
}

func TestSplitChunksShortText(t *testing.T) {
	if got := SplitChunks("  Salut.  ", 200); !reflect.DeepEqual(got, []string{"Salut."}) {
		t.Fatalf("SplitChunks() = %#v", got)
	}
	if got := SplitChunks("   ", 200); got != nil {
		t.Fatalf("SplitChunks(blank) = %#v, want nil", got)
	}
}

func TestPlanChunksOnlyChunksWhenNeeded(t *testing.T) {
	text := strings.Repeat("Une phrase assez longue pour le test. ", 10)
	if got := PlanChunks(text, 0, 50); len(got) != 1 || got[0] != text {
		t.Fatalf("PlanChunks without chunking = %d chunks, want original text", len(got))
	}
	if got := PlanChunks(text, NeedsChunking, 50); len(got) < 2 {
		t.Fatalf("PlanChunks with chunking = %d chunks, want several", len(got))
	}
	if got := PlanChunks("Court.", NeedsChunking, 50); len(got) != 1 {
		t.Fatalf("PlanChunks(short) = %#v", got)
	}
}

func TestDetect(t *testing.T) {
	const (
		iphone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
		safari  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"
		chrome  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		android = "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Safari/537.36"
		firefox = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	)
	all := NeedsChunking | NeedsAudioUnlock | NeedsWatchdog
	cases := []struct {
		name string
		ua   string
		want Capabilities
	}{
		{name: "iphone safari", ua: iphone, want: all | SlowTransitions},
		{name: "desktop safari", ua: safari, want: all | SlowTransitions},
		{name: "chrome", ua: chrome, want: 0},
		{name: "android", ua: android, want: 0},
		{name: "firefox", ua: firefox, want: 0},
		{name: "ios chrome", ua: "Mozilla/5.0 (iPad; CPU OS 17_0) CriOS/120.0 Mobile/15E148 Chrome/120 Safari/604.1", want: all},
	}
	for _, tc := range cases {
		if got := Detect(tc.ua); got != tc.want {
			t.Fatalf("%s: Detect() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCapabilitiesString(t *testing.T) {
	if got := Capabilities(0).String(); got != "none" {
		t.Fatalf("String() = %q, want none", got)
	}
	if got := (NeedsChunking | SlowTransitions).String(); got != "chunking|slow_transitions" {
		t.Fatalf("String() = %q", got)
	}
}

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{Name: "Daniel", Lang: "en-GB"},
		{Name: "Amélie", Lang: "fr-CA"},
		{Name: "Thomas", Lang: "fr-FR"},
	}
	v, ok := SelectVoice(voices, "fr-FR")
	if !ok || v.Name != "Amélie" {
		t.Fatalf("SelectVoice(fr-FR) = %v, %v, want Amélie", v, ok)
	}
	v, ok = SelectVoice(voices, "de-DE")
	if !ok || v.Name != "Daniel" {
		t.Fatalf("SelectVoice(de-DE) = %v, %v, want first voice", v, ok)
	}
	if _, ok := SelectVoice(nil, "fr-FR"); ok {
		t.Fatalf("SelectVoice(nil) ok = true, want false")
	}
}
