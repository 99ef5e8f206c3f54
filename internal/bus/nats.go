package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// SubjectAlertCreated carries AlertEvent payloads from the ingestion service
// to the push-notify worker. Delivery is best-effort by design.
const SubjectAlertCreated = "alert.created"

// AlertEvent is the wire payload published whenever an alert is created.
type AlertEvent struct {
	AlertID       string `json:"alert_id"`
	DeviceID      string `json:"device_id"`
	Severity      string `json:"severity"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	BroadcastRole string `json:"broadcast_role,omitempty"`
}

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

type Subscriber struct {
	Conn *nats.Conn
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

func (s *Subscriber) Subscribe(subject string, handler func(AlertEvent)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt AlertEvent
		_ = json.Unmarshal(msg.Data, &evt)
		handler(evt)
	})
}
