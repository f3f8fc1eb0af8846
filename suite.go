package gnoracle

import (
	"go.dedis.ch/kyber/v3/suites"
)

// Suite is the group used for operator keys and for Ed25519 identity
// verification.
var Suite = suites.MustFind("Ed25519")
