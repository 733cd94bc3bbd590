// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/twputra/sentrysol-beta-v2/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	mu   sync.Mutex // guards ch, publishing is not safe on a shared channel
	ch   *amqp.Channel
	log  logrus.FieldLogger
}

// New instantiates a new amqp broker.
func New(uri string, log logrus.FieldLogger) (*Amqp, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}
	log.WithField("broker", "amqp").Info("connected to message broker")

	return &Amqp{conn: conn, log: log}, nil
}

// Setup obtains an amqp channel and declares the "ar" ("analysis reports") topic exchange, where the analyzer
// service publishes a report after every completed analysis.
func (r *Amqp) Setup() error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(msg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.WithError(err).Warn("error closing amqp channel")
		}
		r.ch = nil
	}
	r.mu.Unlock()

	return r.conn.Close()
}

// channel returns the shared channel, opening it when missing. r.mu must be held.
func (r *Amqp) channel() (*amqp.Channel, error) {
	if r.ch == nil {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, err
		}
		r.ch = ch
	}
	return r.ch, nil
}

// SendReport publishes a report to the "ar" exchange
func (r *Amqp) SendReport(rep msg.Report) error {
	jsonDoc, err := json.Marshal(rep)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.channel()
	if err != nil {
		return err
	}

	m := amqp.Publishing{
		Headers:     amqp.Table{"x-report-id": rep.ID},
		Body:        jsonDoc,
		ContentType: "application/json",
		Timestamp:   rep.Time,
	}
	if err = ch.Publish(msg.Exchange, rep.RoutingKey(), false, false, m); err != nil {
		// a failed publish closes the channel, open a new one next time
		r.ch = nil
		r.log.WithError(err).WithField("address", rep.Address).Error("error sending report to message broker")
	}

	return err
}

// GetReports consumes reports from the "ar" exchange through the durable queue bound with pattern, pushing them to
// the returned channel. The Mutex pointer is provided to ensure the consumed message has been fully dealt with by the
// consumer, so the message is only acknowledged when the consumer unlocks the mutex after processing each report.
func (r *Amqp) GetReports(queue, pattern string, mut *sync.Mutex) (<-chan msg.Report, <-chan error, error) {
	// consumers get their own channel so acknowledgements do not race with publishing
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, nil, err
	}
	if err = ch.QueueBind(queue, pattern, msg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, nil, err
	}

	msgs, err := ch.Consume(queue, "reports-"+queue, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}

	reps := make(chan msg.Report)
	errs := make(chan error)

	go func() {
		defer ch.Close()
		deliver(msgs, reps, errs, mut)
	}()

	return reps, errs, nil
}

// deliver decodes msgs into reps until msgs is closed, then closes reps and errs. Each report is acknowledged once
// the consumer unlocks mut; malformed messages are reported on errs and dropped.
func deliver(msgs <-chan amqp.Delivery, reps chan<- msg.Report, errs chan<- error, mut *sync.Mutex) {
	defer close(errs)
	defer close(reps)

	for m := range msgs {
		var rep msg.Report
		if err := json.Unmarshal(m.Body, &rep); err != nil {
			errs <- err
			_ = m.Nack(false, false) // malformed, do not redeliver
			continue
		}
		mut.Lock()
		reps <- rep
		mut.Lock() // the consumer unlocks once the report is processed
		_ = m.Ack(false)
		mut.Unlock()
	}
}
