package remote

import (
	"fmt"
	"time"

	"github.com/vonshlovens/datashelf/internal/config"
)

// NewFromConfig creates the Storage implementation selected in the remote
// config. The secret is the credential loaded for the derived key id; the
// filesystem backend ignores it.
func NewFromConfig(cfg *config.Config, secret string) (Storage, error) {
	switch cfg.Remote.Backend {
	case "webdav":
		return NewWebDAV(cfg.Remote.Endpoint, cfg.Remote.Library, cfg.Remote.Username, secret, WebDAVOptions{
			ReadRetries: cfg.Sync.ReadRetries,
			BaseDelay:   time.Duration(cfg.Sync.RetryBaseDelayMs) * time.Millisecond,
		})
	case "filesystem":
		return NewFilesystem(cfg.Remote.Root, cfg.Remote.Library)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Remote.Backend)
	}
}
