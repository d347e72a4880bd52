// internal/bus/nats.go
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-webp/pkg/schema"
)

const (
	DefaultBatchSubject = "webp.batch.done"
	downloadSuffix      = ".download"
)

type Client struct{ nc *nats.Conn }

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("webpctl"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// Flush waits until published events have reached the server.
func (c *Client) Flush(ctx context.Context) error {
	return c.nc.FlushWithContext(ctx)
}

type jsonPublisher interface {
	PublishJSON(subject string, v any) error
}

// Events publishes batch and download results. Download events go to the
// batch subject with a ".download" suffix.
type Events struct {
	pub     jsonPublisher
	subject string
}

func NewEvents(pub jsonPublisher, subject string) *Events {
	if subject == "" {
		subject = DefaultBatchSubject
	}
	return &Events{pub: pub, subject: subject}
}

func (e *Events) PublishBatchDone(evt schema.BatchDone) error {
	return e.pub.PublishJSON(e.subject, evt)
}

func (e *Events) PublishDownload(evt schema.DownloadDone) error {
	return e.pub.PublishJSON(e.subject+downloadSuffix, evt)
}
