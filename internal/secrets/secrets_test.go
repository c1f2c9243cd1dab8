package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestKeyringSealOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", ".age-key")
	k, err := InitKeyring(path)
	if err != nil {
		t.Fatalf("InitKeyring: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}
	if !strings.HasPrefix(k.Recipient(), "age1") {
		t.Errorf("recipient = %q", k.Recipient())
	}

	sealed, err := k.Seal("sk-ant-123")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("Seal returned %q", sealed)
	}

	// Reloading the same file yields the same identity.
	again, err := InitKeyring(path)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := again.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if plain != "sk-ant-123" {
		t.Errorf("Open = %q", plain)
	}
}

func TestKeyringOpenErrors(t *testing.T) {
	k, err := InitKeyring(filepath.Join(t.TempDir(), ".age-key"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.Open("plain"); !errors.Is(err, ErrNotSealed) {
		t.Errorf("Open(plain) = %v, want ErrNotSealed", err)
	}
	if _, err := k.Open("ENC[age:!!!]"); err == nil {
		t.Error("Open accepted bad base64")
	}

	other, err := InitKeyring(filepath.Join(t.TempDir(), ".age-key"))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := other.Seal("x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.Open(sealed); err == nil {
		t.Error("Open decrypted a value sealed for another identity")
	}
}

func TestLoadKeyringMissing(t *testing.T) {
	if _, err := LoadKeyring(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestOpenEnv(t *testing.T) {
	k, err := InitKeyring(filepath.Join(t.TempDir(), ".age-key"))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := k.Seal("secret-value")
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("SWARM_TEST_SEALED", sealed)
	t.Setenv("SWARM_TEST_PLAIN", "visible")
	t.Setenv("SWARM_TEST_BROKEN", "ENC[age:AAAA]")

	opened, err := k.OpenEnv()
	if err == nil || !strings.Contains(err.Error(), "SWARM_TEST_BROKEN") {
		t.Errorf("OpenEnv error = %v, want one naming the broken var", err)
	}
	if len(opened) != 1 || opened[0] != "SWARM_TEST_SEALED" {
		t.Errorf("opened = %v", opened)
	}
	if got := os.Getenv("SWARM_TEST_SEALED"); got != "secret-value" {
		t.Errorf("SWARM_TEST_SEALED = %q", got)
	}
	if got := os.Getenv("SWARM_TEST_PLAIN"); got != "visible" {
		t.Errorf("SWARM_TEST_PLAIN = %q", got)
	}
}

func TestSetEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("# keys\nFOO=bar\n\nBAZ=qux\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := SetEntry(path, "FOO", "updated"); err != nil {
		t.Fatal(err)
	}
	if err := SetEntry(path, "NEW", "has space"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "# keys\nFOO=updated\n\nBAZ=qux\nNEW=\"has space\"\n"
	if string(data) != want {
		t.Errorf("file =\n%s\nwant\n%s", data, want)
	}
}

func TestSetEntryCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := SetEntry(path, "ANTHROPIC_API_KEY", "ENC[age:abc]"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ANTHROPIC_API_KEY=ENC[age:abc]\n" {
		t.Errorf("file = %q", data)
	}
}
