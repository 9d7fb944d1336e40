// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

type transportAuth = transport.AuthMethod

// failingCloner stands in for git so tests never touch the network.
type failingCloner struct{}

func (failingCloner) CloneTag(context.Context, string, string, string, transport.AuthMethod) error {
	return errors.New("repository not found")
}
