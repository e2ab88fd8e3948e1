package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindTimeout, Classify(fmt.Errorf("post: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindTimeout, Classify(&url.Error{Op: "Post", URL: "http://x", Err: timeoutErr{}}))
	assert.Equal(t, KindConnection, Classify(&url.Error{Op: "Post", URL: "http://x", Err: refused}))
	assert.Equal(t, KindConnection, Classify(&net.DNSError{Err: "no such host", Name: "portal"}))
	assert.Equal(t, KindUnexpected, Classify(errors.New("boom")))
}

func TestSynced(t *testing.T) {
	assert.True(t, OK("doc-1", "").Synced())
	assert.False(t, OK("", "").Synced(), "success without an id does not confirm the record")
	assert.False(t, Skip("off").Synced())
	assert.False(t, Fail(KindRejected, "nope").Synced())
}
