package blob

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Offloader moves serialized responses that exceed a size threshold into the
// blob store, returning a retrieval reference instead of the payload.
type Offloader struct {
	store     Store
	threshold int
	prefix    string
}

// DefaultOffloadThreshold matches common gateway response limits.
const DefaultOffloadThreshold = 9 * 1024 * 1024

// NewOffloader constructs an offloader over the store. A threshold of zero
// falls back to DefaultOffloadThreshold.
func NewOffloader(store Store, threshold int, prefix string) *Offloader {
	if threshold <= 0 {
		threshold = DefaultOffloadThreshold
	}
	if prefix == "" {
		prefix = "offload"
	}
	return &Offloader{store: store, threshold: threshold, prefix: prefix}
}

// MaybeOffload stores body under a key derived from id when it exceeds the
// threshold. It returns the retrieval URL and true when offloaded, or ("",
// false) when the body should be served inline.
func (o *Offloader) MaybeOffload(ctx context.Context, id string, body []byte) (string, bool, error) {
	if o == nil || o.store == nil || len(body) <= o.threshold {
		return "", false, nil
	}
	key := fmt.Sprintf("%s/%s-%d.json", o.prefix, id, time.Now().UTC().UnixNano())
	if _, err := o.store.Put(ctx, key, bytes.NewReader(body), PutOptions{ContentType: "application/json"}); err != nil {
		return "", false, err
	}
	url, err := o.store.PresignURL(ctx, key, SignedURLOptions{})
	if err != nil {
		if err == ErrUnsupported {
			return key, true, nil
		}
		return "", false, err
	}
	return url, true, nil
}
