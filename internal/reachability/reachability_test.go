package reachability

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"restreamer/internal/restreamerrors"
)

func TestCheckConnectionFailsOnUnreachableHTTP(t *testing.T) {
	c := New("127.0.0.1", "http://127.0.0.1:1/does-not-exist", 200*time.Millisecond, zerolog.Nop())
	err := c.CheckConnection(context.Background())
	assert.ErrorIs(t, err, restreamerrors.ErrUnreachable)
}

func TestCheckConnectionFailsOnBadPingHost(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	c := New("not-a-valid-host-!!", srv.URL, 200*time.Millisecond, zerolog.Nop())
	err := c.CheckConnection(context.Background())
	assert.ErrorIs(t, err, restreamerrors.ErrUnreachable)
}
