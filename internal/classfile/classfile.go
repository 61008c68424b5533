// Package classfile reads declare artifacts. Compiling and hashing contract
// classes is done by the toolchain that produced the artifact.
package classfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/NethermindEth/juno/core/felt"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
)

// Artifact is a compiled contract ready to declare.
type Artifact struct {
	ClassHash         *felt.Felt      `json:"class_hash"`
	CompiledClassHash *felt.Felt      `json:"compiled_class_hash"`
	ContractClass     json.RawMessage `json:"contract_class"`
}

func Load(path string) (*Artifact, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("read contract artifact %s", path), err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(buf, &a); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse contract artifact", err)
	}
	switch {
	case a.ClassHash == nil:
		return nil, clierr.New(clierr.CodeBuild, "contract artifact is missing class_hash")
	case a.CompiledClassHash == nil:
		return nil, clierr.New(clierr.CodeBuild, "contract artifact is missing compiled_class_hash")
	case len(bytes.TrimSpace(a.ContractClass)) == 0 || bytes.Equal(bytes.TrimSpace(a.ContractClass), []byte("null")):
		return nil, clierr.New(clierr.CodeBuild, "contract artifact is missing contract_class")
	}
	return &a, nil
}
