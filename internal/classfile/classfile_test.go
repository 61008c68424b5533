package classfile

import (
	"os"
	"path/filepath"
	"testing"

	clierr "github.com/ggonzalez94/sncast/internal/errors"
)

func TestLoadArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Map.artifact.json")
	body := `{"class_hash":"0x12","compiled_class_hash":"0x34","contract_class":{"sierra_program":[],"abi":"[]"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if a.ClassHash.String() != "0x12" || a.CompiledClassHash.String() != "0x34" {
		t.Fatalf("unexpected hashes: %s %s", a.ClassHash, a.CompiledClassHash)
	}
	if len(a.ContractClass) == 0 {
		t.Fatal("expected contract class payload")
	}
}

func TestParseRequiresHashes(t *testing.T) {
	_, err := Parse([]byte(`{"class_hash":"0x12","contract_class":{}}`))
	if err == nil {
		t.Fatal("expected error without compiled_class_hash")
	}
	if clierr.ExitCode(err) != int(clierr.CodeBuild) {
		t.Fatalf("expected build error, got %v", err)
	}
	if _, err := Parse([]byte(`{"class_hash":"0x1","compiled_class_hash":"0x2"}`)); err == nil {
		t.Fatal("expected error without contract_class")
	}
}
