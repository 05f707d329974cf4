package node

import "github.com/0x6flab/namegenerator"

var generator = namegenerator.NewGenerator()

// DisplayName picks a human-readable name for a node. Peer IDs are
// unwieldy in logs and save paths; the generated name is stable for the
// process lifetime.
func DisplayName() string {
	return generator.Generate()
}
