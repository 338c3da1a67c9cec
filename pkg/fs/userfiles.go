package fs

import (
	"fmt"
)

// Account describes the runtime identity baked into an image. The account is
// always declared explicitly by the build definition, never assumed to exist
// in the base image.
type Account struct {
	Name string
	UID  int
	GID  int
	Home string
}

// AccountRecords synthesizes /etc/passwd and /etc/group entries for the given
// account. The files carry a root entry plus the declared account, the same
// minimal database distroless-style images ship, so both name and numeric
// lookups resolve at runtime.
func AccountRecords(account Account) FileMap {
	home := account.Home
	if home == "" {
		home = "/home/" + account.Name
	}

	passwd := fmt.Sprintf(
		"root:x:0:0:root:/root:/sbin/nologin\n%s:x:%d:%d::%s:/sbin/nologin\n",
		account.Name, account.UID, account.GID, home,
	)
	group := fmt.Sprintf(
		"root:x:0:\n%s:x:%d:\n",
		account.Name, account.GID,
	)

	records := NewFileMap()
	records.Add("etc/passwd", []byte(passwd), 0o644)
	records.Add("etc/group", []byte(group), 0o644)
	return records
}
