package relocate

import (
	gomacho "github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/pkg/codesign"
	cstypes "github.com/blacktop/go-macho/pkg/codesign/types"
)

// A Signer re-signs a binary after its load commands were edited.
type Signer interface {
	Sign(binary string) error
}

// AdhocSigner replaces the code signature of a binary with an ad-hoc one.
// Edited binaries must be re-signed before they run on Apple Silicon.
type AdhocSigner struct{}

func (AdhocSigner) Sign(bin string) error {
	return rewrite(bin, "codesign", []string{"--sign", "-"}, func(m *gomacho.File) error {
		return m.CodeSign(&codesign.Config{
			Flags: cstypes.ADHOC,
		})
	})
}
