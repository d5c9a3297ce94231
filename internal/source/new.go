package source

import (
	"fmt"

	"github.com/ppiankov/relaypan/internal/config"
)

// New builds the client for one pool account.
func New(a config.Account) (Client, error) {
	switch a.Kind {
	case config.AccountKindAPI, "":
		x, err := NewX(a.Name, a.BearerToken)
		if err != nil {
			return nil, err
		}
		return x, nil
	case config.AccountKindFeed:
		f, err := NewFeed(a.Name, a.FeedURL)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("account %s: unknown kind %q", a.Name, a.Kind)
	}
}
