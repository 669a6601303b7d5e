package extract

import (
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/types"
)

func TestEntities(t *testing.T) {
	t.Parallel()

	e := NewExtractor(zap.NewNop())

	tests := []struct {
		query string
		want  []string
	}{
		{"Who is Joe Biden?", []string{"Joe Biden"}},
		{"The", nil},
		{"How many moons does Saturn have?", []string{"Saturn"}},
		{"What is the mass of Saturn?", []string{"Saturn"}},
		{"Did Marie Curie ever meet Albert Einstein?", []string{"Marie Curie", "Albert Einstein"}},
		{"Where is the Statue of Liberty?", []string{"Statue of Liberty"}},
		{"", nil},
		{"what is going on", nil},
		{"Saturn and Saturn", []string{"Saturn", "Saturn"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := surfaceForms(e.Entities(tt.query))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Entities(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestEntities_OrderOfFirstAppearance(t *testing.T) {
	t.Parallel()

	e := NewExtractor(zap.NewNop())
	got := surfaceForms(e.Entities("Was Napoleon taller than Einstein?"))
	want := []string{"Napoleon", "Einstein"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Entities = %v, want %v", got, want)
	}
}

func surfaceForms(entities []types.Entity) []string {
	var out []string
	for _, ent := range entities {
		out = append(out, ent.Text)
	}
	return out
}

func TestWords(t *testing.T) {
	t.Parallel()

	e := NewExtractor(zap.NewNop())

	got := e.Words("What is the mass of Saturn?")
	want := []string{"mass", "saturn"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Words = %v, want %v", got, want)
	}
}

func TestWords_DeduplicatesAndLowercases(t *testing.T) {
	t.Parallel()

	e := NewExtractor(zap.NewNop())

	got := e.Words("Saturn! saturn? SATURN.")
	want := []string{"saturn"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Words = %v, want %v", got, want)
	}
}

func TestWords_EmptyQuery(t *testing.T) {
	t.Parallel()

	e := NewExtractor(zap.NewNop())
	if got := e.Words(""); len(got) != 0 {
		t.Errorf("expected empty set, got %v", got)
	}
}
