package secrets_test

import (
	"errors"
	"testing"

	"github.com/forgeline/foreman/internal/secrets"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("FOREMAN_TEST_KEY", "sk-123")
	t.Setenv("FOREMAN_TEST_EMPTY", "")

	vals, err := secrets.FromEnv("FOREMAN_TEST_KEY", "FOREMAN_TEST_EMPTY", "FOREMAN_TEST_UNSET")()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if vals["FOREMAN_TEST_KEY"] != "sk-123" {
		t.Errorf("key = %q", vals["FOREMAN_TEST_KEY"])
	}
	if _, ok := vals["FOREMAN_TEST_EMPTY"]; ok {
		t.Error("empty variable should be omitted")
	}
	if _, ok := vals["FOREMAN_TEST_UNSET"]; ok {
		t.Error("unset variable should be omitted")
	}
}

func TestChainLaterLoaderWins(t *testing.T) {
	first := func() (map[string]string, error) {
		return map[string]string{"TOKEN": "old", "KEEP": "yes"}, nil
	}
	second := func() (map[string]string, error) {
		return map[string]string{"TOKEN": "new"}, nil
	}

	vals, err := secrets.Chain(first, second)()
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if vals["TOKEN"] != "new" {
		t.Errorf("TOKEN = %q, want new", vals["TOKEN"])
	}
	if vals["KEEP"] != "yes" {
		t.Errorf("KEEP = %q", vals["KEEP"])
	}
}

func TestVaultGetAndMissing(t *testing.T) {
	v, err := secrets.New(func() (map[string]string, error) {
		return map[string]string{"API_KEY": "sk-abc"}, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := v.Get("API_KEY"); got != "sk-abc" {
		t.Errorf("Get = %q", got)
	}
	if got := v.Get("MISSING"); got != "" {
		t.Errorf("missing key = %q, want empty", got)
	}
}

func TestVaultLoaderError(t *testing.T) {
	if _, err := secrets.New(func() (map[string]string, error) {
		return nil, errors.New("vault sealed")
	}); err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVaultReloadKeepsValuesOnError(t *testing.T) {
	calls := 0
	v, err := secrets.New(func() (map[string]string, error) {
		calls++
		switch calls {
		case 1:
			return map[string]string{"TOKEN": "old"}, nil
		case 2:
			return nil, errors.New("transient")
		default:
			return map[string]string{"TOKEN": "rotated"}, nil
		}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get("TOKEN"); got != "old" {
		t.Errorf("after failed reload TOKEN = %q, want old", got)
	}

	if err := v.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := v.Get("TOKEN"); got != "rotated" {
		t.Errorf("TOKEN = %q, want rotated", got)
	}
}
