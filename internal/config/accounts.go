package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	AccountKindAPI  = "api"
	AccountKindFeed = "feed"
)

// ErrNoAccounts is returned when the accounts file lists nobody.
var ErrNoAccounts = errors.New("no accounts configured")

// Account is one credential in the rotation pool. Its position in the file is
// its pool position.
type Account struct {
	Name           string `yaml:"name"`
	Kind           string `yaml:"kind"`
	BearerToken    string `yaml:"bearer_token"`
	BearerTokenEnv string `yaml:"bearer_token_env"`
	FeedURL        string `yaml:"feed_url"`

	// Key used by the older JSON credential files. Consumer and access keys
	// in those files are ignored; only reads are made.
	LegacyBearer string `yaml:"BEARER_TOKEN"`
}

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// LoadAccounts reads the ordered credential pool from path. JSON files in the
// older {"accounts": [{"BEARER_TOKEN": ...}]} shape are accepted as well.
func LoadAccounts(path string) ([]Account, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("accounts path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}

	var f accountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	if len(f.Accounts) == 0 {
		return nil, ErrNoAccounts
	}

	for i := range f.Accounts {
		if err := normalizeAccount(i, &f.Accounts[i]); err != nil {
			return nil, err
		}
	}
	return f.Accounts, nil
}

func normalizeAccount(pos int, a *Account) error {
	if a.Name == "" {
		a.Name = fmt.Sprintf("account-%d", pos)
	}
	if a.BearerToken == "" && a.LegacyBearer != "" {
		a.BearerToken = a.LegacyBearer
	}
	if a.Kind == "" {
		a.Kind = AccountKindAPI
		if a.FeedURL != "" && a.BearerToken == "" && a.BearerTokenEnv == "" {
			a.Kind = AccountKindFeed
		}
	}
	if a.BearerTokenEnv != "" && a.BearerToken == "" {
		a.BearerToken = os.Getenv(a.BearerTokenEnv)
	}

	// A missing token is not fatal here: the rotation treats it as a hard
	// error for that position only.
	switch a.Kind {
	case AccountKindAPI:
	case AccountKindFeed:
		if !strings.Contains(a.FeedURL, "{username}") {
			return fmt.Errorf("accounts[%d] %s: feed_url must contain {username}", pos, a.Name)
		}
	default:
		return fmt.Errorf("accounts[%d] %s: unknown kind %q (want api or feed)", pos, a.Name, a.Kind)
	}
	return nil
}
