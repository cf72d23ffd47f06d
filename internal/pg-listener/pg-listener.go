package pg_listener

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the channel the payments trigger notifies on.
const DefaultChannel = "payment_events"

// NotificationHandler receives decoded change events.
type NotificationHandler interface {
	HandleNotification(event ChangeEvent) error
}

type ListenerConfig struct {
	PgConnStr string
	Channel   string
	// Interval is how long to wait for a notification before pinging the connection.
	Interval time.Duration
	// Timeout is the maximum reconnect backoff.
	Timeout time.Duration
}

// ChangeEvent is the payload emitted by the payments trigger.
type ChangeEvent struct {
	Table     string `json:"table"`
	Operation string `json:"operation"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	MPCStatus string `json:"mpc_status"`
}

type DBListener struct {
	config  ListenerConfig
	handler NotificationHandler
}

func NewDBListener(config ListenerConfig, handler NotificationHandler) *DBListener {
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.Interval == 0 {
		config.Interval = 90 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = time.Minute
	}
	return &DBListener{
		config:  config,
		handler: handler,
	}
}

// Start blocks until ctx is done, delivering notifications to the handler.
func (d *DBListener) Start(ctx context.Context) error {
	listener := pq.NewListener(d.config.PgConnStr, 10*time.Second, d.config.Timeout, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithError(err).Warn("postgres listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(d.config.Channel); err != nil {
		return err
	}
	logrus.Infof("listening for postgres notifications on channel '%s'", d.config.Channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; events missed meanwhile are caught by the reconciler
			if n == nil {
				continue
			}
			d.handleNotification(n.Extra)
		case <-time.After(d.config.Interval):
			if err := listener.Ping(); err != nil {
				logrus.WithError(err).Warn("postgres listener ping failed")
			}
		}
	}
}

func (d *DBListener) handleNotification(extra string) {
	var event ChangeEvent
	if err := json.Unmarshal([]byte(extra), &event); err != nil {
		logrus.WithError(err).Warn("invalid notification payload")
		return
	}
	if event.PaymentID == "" {
		return
	}
	if err := d.handler.HandleNotification(event); err != nil {
		logrus.WithError(err).WithField("payment_id", event.PaymentID).Warn("error handling notification")
	}
}
