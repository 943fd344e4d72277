package wadriver

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// targetJID resolves a message target to a JID. Targets already carrying a
// domain are parsed as-is. Bare identifiers are classified by the group
// separator: "123456-789" is a group, "5551234" an individual.
func targetJID(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		return types.ParseJID(to)
	}
	if strings.Contains(to, "-") {
		return types.NewJID(to, types.GroupServer), nil
	}
	return types.NewJID(to, types.DefaultUserServer), nil
}
