package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammad-safakhou/leadgen/config"
	"github.com/mohammad-safakhou/leadgen/models"
)

type fakeSource struct {
	keys map[string]string // "userID/service" -> key
	err  error
}

func (f *fakeSource) GetAPIKey(_ context.Context, userID, service string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.keys[userID+"/"+service], nil
}

func testCfg() *config.Config {
	cfg := &config.Config{}
	cfg.LLM.APIKey = "sk-config-openai"
	cfg.Search.SerperAPIKey = "config-serper"
	return cfg
}

func TestStoredKeyWinsOverConfig(t *testing.T) {
	src := &fakeSource{keys: map[string]string{"u1/openai": "sk-stored"}}
	r := NewResolver(testCfg(), src)

	key, err := r.Resolve(context.Background(), "u1", models.ServiceOpenAI)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != "sk-stored" {
		t.Errorf("key = %q, want stored key", key)
	}
}

func TestConfigKeyIsFallback(t *testing.T) {
	r := NewResolver(testCfg(), &fakeSource{})

	key, err := r.Resolve(context.Background(), "u1", models.ServiceSerper)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != "config-serper" {
		t.Errorf("key = %q, want config key", key)
	}
}

func TestUnconfiguredServiceErrs(t *testing.T) {
	r := NewResolver(testCfg(), &fakeSource{})

	_, err := r.Resolve(context.Background(), "u1", models.ServiceApollo)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestUnknownServiceErrs(t *testing.T) {
	r := NewResolver(testCfg(), nil)
	if _, err := r.Resolve(context.Background(), "u1", "stripe"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestMissingListsUnresolvedServices(t *testing.T) {
	src := &fakeSource{keys: map[string]string{"u1/apollo": "ap-key"}}
	r := NewResolver(testCfg(), src)

	missing := r.Missing(context.Background(), "u1", models.ServiceSerper, models.ServiceOpenAI, models.ServiceApollo, models.ServiceBrave)
	if len(missing) != 1 || missing[0] != models.ServiceBrave {
		t.Errorf("missing = %v, want [brave]", missing)
	}
}

func TestSourceErrorCountsAsMissing(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	r := NewResolver(testCfg(), src)

	missing := r.Missing(context.Background(), "u1", models.ServiceOpenAI)
	if len(missing) != 1 {
		t.Errorf("missing = %v, want one entry", missing)
	}
}

func TestMask(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"abc", "***"},
		{"abcdef", "***"},
		{"sk-proj-abcdef123", "sk-...123"},
	}
	for _, tc := range cases {
		if got := Mask(tc.in); got != tc.want {
			t.Errorf("Mask(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
