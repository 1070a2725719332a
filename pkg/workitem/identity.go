package workitem

import (
	"strings"

	"flowfarm/pkg/types"

	"github.com/google/uuid"
)

var identityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("flowfarm:work-item"))

// IdentityID derives an item id from the account it targets: platform, username
// (case-insensitive) and user id. The same account imported twice without an id
// gets the same id, so Merge treats the repeat as known.
func IdentityID(it types.WorkItem) string {
	key := strings.ToLower(strings.TrimSpace(it.Platform)) + "\x00" +
		strings.ToLower(strings.TrimSpace(it.Username)) + "\x00" +
		strings.TrimSpace(it.UserID)
	return uuid.NewSHA1(identityNamespace, []byte(key)).String()
}

func assignIDs(items []types.WorkItem) {
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = IdentityID(items[i])
		}
	}
}
