package steamenrich

import "testing"

func TestNormalizeStripsPunctuationAndCase(t *testing.T) {
	got := normalize("Portal 2: Still Alive!")
	want := "portal 2 still alive"
	if got != want {
		t.Fatalf("normalize = %q, want %q", got, want)
	}
}

func TestPickBestMatchExactNormalizedMatch(t *testing.T) {
	items := []searchItem{
		{ID: 1, Name: "Portal", Type: "app"},
		{ID: 2, Name: "Portal 2", Type: "app"},
	}
	got := pickBestMatch("portal", items)
	if got == nil || got.ID != 1 {
		t.Fatalf("got %+v, want exact match on id 1", got)
	}
}

func TestPickBestMatchDistinguishesStrictTokens(t *testing.T) {
	items := []searchItem{
		{ID: 1, Name: "Portal", Type: "app"},
		{ID: 2, Name: "Portal 2", Type: "app"},
	}
	// The doubled space defeats the exact normalized match, so only the
	// token comparison can pick id 2.
	got := pickBestMatch("Portal  2", items)
	if got == nil || got.ID != 2 {
		t.Fatalf("got %+v, want strict token match on id 2", got)
	}
}

func TestPickBestMatchIgnoresNonAppCandidates(t *testing.T) {
	items := []searchItem{
		{ID: 1, Name: "Portal Soundtrack", Type: "dlc"},
		{ID: 2, Name: "Portal", Type: "app"},
	}
	got := pickBestMatch("Portal", items)
	if got == nil || got.ID != 2 {
		t.Fatalf("got %+v, want the sole app-typed candidate", got)
	}
}

func TestPickBestMatchNoCandidatesReturnsNil(t *testing.T) {
	if got := pickBestMatch("anything", nil); got != nil {
		t.Fatalf("got %+v, want nil for no candidates", got)
	}
}

func TestSimilarityIdenticalStringsIsOne(t *testing.T) {
	if got := similarity("portal 2", "portal 2"); got != 1 {
		t.Fatalf("similarity = %v, want 1", got)
	}
}

func TestSimilarityDisjointStringsIsZero(t *testing.T) {
	if got := similarity("abc", "xyz"); got != 0 {
		t.Fatalf("similarity = %v, want 0", got)
	}
}
