package signal

import (
	"context"
	"testing"
)

func TestNormalizeFillsMissing(t *testing.T) {
	got := Normalize(map[string]string{
		KeyPlatform:  "ios",
		KeyOSVersion: "17.4",
	})

	if len(got) != len(HashOrder) {
		t.Fatalf("normalized size = %d, want %d", len(got), len(HashOrder))
	}
	if got[KeyPlatform] != "ios" {
		t.Errorf("platform = %q, want %q", got[KeyPlatform], "ios")
	}
	if got[KeyModel] != Missing {
		t.Errorf("missing model = %q, want sentinel %q", got[KeyModel], Missing)
	}
	if got[KeyAdID] != Missing {
		t.Errorf("missing ad_id = %q, want sentinel %q", got[KeyAdID], Missing)
	}
}

func TestStaticProviderCopies(t *testing.T) {
	src := map[string]string{KeyPlatform: "android"}
	p := NewStatic(src)
	src[KeyPlatform] = "mutated"

	got, err := p.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got[KeyPlatform] != "android" {
		t.Errorf("provider leaked caller mutation: %q", got[KeyPlatform])
	}

	// Mutating the collected map must not affect later collections.
	got[KeyPlatform] = "mutated"
	again, _ := p.Collect(context.Background())
	if again[KeyPlatform] != "android" {
		t.Errorf("provider leaked result mutation: %q", again[KeyPlatform])
	}
}
