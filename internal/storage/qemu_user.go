package storage

import (
	"bufio"
	"io"
	"os"
	"os/user"
	"strings"
	"sync"
)

// qemuConfPath is where libvirt configures the user QEMU runs as.
const qemuConfPath = "/etc/libvirt/qemu.conf"

// qemuOwner is the numeric owner applied to pools and volumes so that the
// hypervisor can open the images it is handed.
type qemuOwner struct {
	UID string
	GID string
	// Fallback is set when neither qemu.conf nor the well-known accounts
	// resolved and the Fedora/RHEL default of 107 was used.
	Fallback bool
}

var (
	qemuOnce  sync.Once
	qemuCache qemuOwner
)

// currentQEMUOwner resolves the QEMU user once per process.
func currentQEMUOwner() qemuOwner {
	qemuOnce.Do(func() {
		var username, groupname string
		if f, err := os.Open(qemuConfPath); err == nil {
			username, groupname = parseQEMUConf(f)
			_ = f.Close()
		}
		qemuCache = resolveQEMUOwner(username, groupname, user.Lookup, user.LookupGroup)
	})
	return qemuCache
}

// resolveQEMUOwner looks up the configured user and group, then the
// accounts distributions commonly create for QEMU.
func resolveQEMUOwner(
	username, groupname string,
	lookupUser func(string) (*user.User, error),
	lookupGroup func(string) (*user.Group, error),
) qemuOwner {
	if username != "" {
		if u, err := lookupUser(username); err == nil {
			owner := qemuOwner{UID: u.Uid, GID: u.Gid}
			if groupname != "" {
				if g, err := lookupGroup(groupname); err == nil {
					owner.GID = g.Gid
				}
			}
			return owner
		}
	}

	for _, name := range []string{"qemu", "libvirt-qemu"} {
		if u, err := lookupUser(name); err == nil {
			return qemuOwner{UID: u.Uid, GID: u.Gid}
		}
	}

	return qemuOwner{UID: "107", GID: "107", Fallback: true}
}

// parseQEMUConf extracts the user and group settings of a qemu.conf.
func parseQEMUConf(r io.Reader) (username, groupname string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		switch strings.TrimSpace(key) {
		case "user":
			username = value
		case "group":
			groupname = value
		}
	}
	return username, groupname
}
