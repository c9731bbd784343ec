package category

import (
	"reflect"
	"testing"
)

func TestNewCategoriesCreatesEmptyCategories(t *testing.T) {
	cats := NewCategories(3)

	if cats.Len() != 3 {
		t.Fatalf("unexpected category count: got %d, want %d", cats.Len(), 3)
	}
	for i := 0; i < cats.Len(); i++ {
		if cats.Category(i) == nil {
			t.Fatalf("expected non-nil category at %d", i)
		}
	}
	if cats.TotalDocuments() != 0 {
		t.Fatalf("expected zero documents, got %d", cats.TotalDocuments())
	}
	if cats.VocabularySize() != 0 {
		t.Fatalf("expected empty vocabulary, got %d", cats.VocabularySize())
	}
}

func TestRebuildVocabularyIsUnionOfTokens(t *testing.T) {
	cats := NewCategories(3)
	cats.Category(0).TrainDocument([]string{"tốt", "lắm"})
	cats.Category(1).TrainDocument([]string{"bình", "thường"})
	cats.Category(2).TrainDocument([]string{"tệ", "lắm"})

	if cats.VocabularySize() != 0 {
		t.Fatal("vocabulary must not change before rebuild")
	}

	cats.RebuildVocabulary()

	want := []string{"bình", "lắm", "thường", "tệ", "tốt"}
	if got := cats.Vocabulary(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected vocabulary: got %v, want %v", got, want)
	}
	if !cats.InVocabulary("lắm") {
		t.Fatal("expected lắm in vocabulary")
	}
	if cats.InVocabulary("missing") {
		t.Fatal("did not expect missing in vocabulary")
	}
	if got := cats.TotalDocuments(); got != 3 {
		t.Fatalf("unexpected total documents: got %d, want %d", got, 3)
	}
}

func TestExportAndRestoreStates(t *testing.T) {
	original := NewCategories(3)
	original.Category(0).TrainDocument([]string{"buy", "buy", "now"})
	original.Category(2).TrainDocument([]string{"stop"})
	original.RebuildVocabulary()

	restored, err := RestoreCategories(original.ExportStates(), original.Vocabulary())
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if !reflect.DeepEqual(restored.ExportStates(), original.ExportStates()) {
		t.Fatal("restored states differ from original")
	}
	if !reflect.DeepEqual(restored.Vocabulary(), original.Vocabulary()) {
		t.Fatal("restored vocabulary differs from original")
	}
	if got := restored.Category(0).GetTokenCount("buy"); got != 2 {
		t.Fatalf("unexpected buy count: got %d, want 2", got)
	}
}

func TestRestoreRejectsInconsistentVocabulary(t *testing.T) {
	states := []PersistedCategory{
		{Tokens: map[string]int{"a": 1}, Tally: 1, Documents: 1},
		{Tokens: map[string]int{"b": 1}, Tally: 1, Documents: 1},
	}

	tests := []struct {
		name       string
		vocabulary []string
	}{
		{name: "missing word", vocabulary: []string{"a"}},
		{name: "extra word", vocabulary: []string{"a", "b", "c"}},
		{name: "duplicate word", vocabulary: []string{"a", "a"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := RestoreCategories(states, tc.vocabulary); err == nil {
				t.Fatal("expected vocabulary mismatch error")
			}
		})
	}
}

func TestRestoreRejectsInvalidCategory(t *testing.T) {
	states := []PersistedCategory{
		{Tokens: map[string]int{"a": 2}, Tally: 1, Documents: 1},
	}
	if _, err := RestoreCategories(states, []string{"a"}); err == nil {
		t.Fatal("expected error for tally mismatch")
	}
}
