package session

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCapture(fragment string) *capture {
	s := &chromeSession{logger: zap.NewNop()}
	return s.CaptureResponses(fragment).(*capture)
}

func receive(c *capture, id network.RequestID, url string) {
	c.onResponse(&network.EventResponseReceived{
		RequestID: id,
		Response:  &network.Response{URL: url, Status: 200},
	})
}

// The network listener and CDP command responses share one goroutine per
// tab, so the loading-finished handler must never issue the body fetch
// inline: a blocked fetch would wedge the tab's event loop.
func TestCaptureFetchesBodyOffEventGoroutine(t *testing.T) {
	c := newTestCapture("Products")

	release := make(chan struct{})
	c.fetchBody = func(network.RequestID) ([]byte, error) {
		<-release
		return []byte(`{"data":{"connection":{}}}`), nil
	}

	receive(c, "req-1", "https://seoudisupermarket.com/graphql?query=Products")

	handled := make(chan struct{})
	go func() {
		c.onLoadingFinished("req-1")
		close(handled)
	}()
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("onLoadingFinished blocked on the body fetch")
	}

	// Body not fetched yet, so nothing is visible.
	require.Empty(t, c.Responses())

	close(release)
	require.Eventually(t, func() bool {
		return len(c.Responses()) == 1
	}, time.Second, 10*time.Millisecond)

	got := c.Responses()[0]
	require.Equal(t, "https://seoudisupermarket.com/graphql?query=Products", got.URL)
	require.Equal(t, 200, got.Status)
	require.Equal(t, []byte(`{"data":{"connection":{}}}`), got.Body)
}

func TestCaptureFiltersByURLFragment(t *testing.T) {
	c := newTestCapture("Products")
	fetches := 0
	c.fetchBody = func(network.RequestID) ([]byte, error) {
		fetches++
		return []byte(`{}`), nil
	}

	receive(c, "req-1", "https://seoudisupermarket.com/static/app.js")
	c.onLoadingFinished("req-1")

	require.Empty(t, c.Responses())
	require.Zero(t, fetches)
}

func TestCaptureDropsLateBodiesAfterStop(t *testing.T) {
	c := newTestCapture("Products")
	c.fetchBody = func(network.RequestID) ([]byte, error) {
		return []byte(`{}`), nil
	}

	receive(c, "req-1", "https://seoudisupermarket.com/graphql?query=Products")
	c.Stop()
	c.onLoadingFinished("req-1")

	require.Empty(t, c.Responses())
	require.Empty(t, c.sess.captures)
}
