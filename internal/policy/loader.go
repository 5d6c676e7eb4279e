package policy

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davidahmann/liqueflow/internal/crypto"
)

type LoadedPolicy struct {
	Policy Policy
	Hash   string
	Bytes  []byte
}

// LoadPolicy loads a YAML policy over the defaults and computes its hash from raw bytes.
func LoadPolicy(path string) (LoadedPolicy, error) {
	// #nosec G304 -- path comes from operator-configured policy path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedPolicy{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (LoadedPolicy, error) {
	p := Default()
	p.Risk.Bands = nil
	if err := yaml.Unmarshal(data, &p); err != nil {
		return LoadedPolicy{}, err
	}
	if len(p.Risk.Bands) == 0 {
		p.Risk.Bands = Default().Risk.Bands
	}
	if err := p.Validate(); err != nil {
		return LoadedPolicy{}, err
	}

	return LoadedPolicy{
		Policy: p,
		Hash:   crypto.DigestWithPrefix(data),
		Bytes:  data,
	}, nil
}

// Builtin returns the default policy with a hash over its YAML encoding.
func Builtin() LoadedPolicy {
	p := Default()
	data, err := yaml.Marshal(p)
	if err != nil {
		data = []byte(p.PolicyID)
	}
	return LoadedPolicy{Policy: p, Hash: crypto.DigestWithPrefix(data), Bytes: data}
}
