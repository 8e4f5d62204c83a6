package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultProviderMatchesTopics(t *testing.T) {
	p := NewDefaultProvider()
	cases := map[string]string{
		"how does Uniswap work?": "Uniswap and DEXs",
		"is staking safe":        "Yield farming and staking",
		"can I borrow on Aave":   "Lending and borrowing",
		"what is DeFi?":          "DeFi overview",
	}
	for text, want := range cases {
		got := p.Query(text)
		if len(got) == 0 || got[0].Title != want {
			t.Fatalf("Query(%q) = %+v, want %q first", text, got, want)
		}
	}
	if got := p.Query("tell me a joke"); len(got) != 0 {
		t.Fatalf("unexpected matches %+v", got)
	}
}

func TestQueryRespectsMaxResults(t *testing.T) {
	p := NewStaticProvider(DefaultSnippets(), 1)
	if got := p.Query("defi yield on uniswap"); len(got) != 1 {
		t.Fatalf("expected one result, got %d", len(got))
	}
	var nilProvider *StaticProvider
	if nilProvider.Query("defi") != nil {
		t.Fatal("nil provider should return nothing")
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	content := `[{"title":"Bridges","content":"Move assets across chains.","keywords":["bridge"]}]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadStaticProvider(path, 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := p.Query("which bridge is safest"); len(got) != 1 || got[0].Title != "Bridges" {
		t.Fatalf("unexpected result %+v", got)
	}
	if _, err := LoadStaticProvider("", 3); err == nil {
		t.Fatal("expected error for empty path")
	}
}
