package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
)

// Users is the static user list: user name -> password hash. Hashes are
// verified by the authenticating front end; the broker only needs to know
// which users exist because each user has its own shard directory.
type Users map[string]string

// Has reports whether user is in the list.
func (u Users) Has(user string) bool {
	_, ok := u[user]
	return ok
}

// LoadUsers reads the YAML user list. Any failure is a config error, which
// the binaries treat as process-fatal.
func LoadUsers(path string) (Users, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, herrors.NewConfigError(herrors.CodeUsersFile,
			fmt.Sprintf("load error: user list file: %s", path), err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, herrors.NewConfigError(herrors.CodeUsersFile,
			fmt.Sprintf("invalid user list format: %s", path), err)
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, herrors.NewConfigError(herrors.CodeUsersFile,
			fmt.Sprintf("invalid user list format: %s", path), nil)
	}

	users := make(Users, len(entries))
	for name, v := range entries {
		hash, ok := v.(string)
		if !ok || name == "" {
			return nil, herrors.NewConfigError(herrors.CodeUsersFile,
				fmt.Sprintf("invalid entry for user %q in %s", name, path), nil)
		}
		users[name] = hash
	}
	return users, nil
}
