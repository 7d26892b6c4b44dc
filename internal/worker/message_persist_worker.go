package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"kbring/internal/model"
	"kbring/internal/repository"
)

// MessagePersistWorker consumes chat message envelopes and writes the
// message plus its citations in one transaction. Persistence is asynchronous
// so a slow database never blocks the chat response path.
type MessagePersistWorker struct {
	conn      *amqp.Connection
	repo      *repository.MessageRepository
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(conn *amqp.Connection, repo *repository.MessageRepository, queueName string) *MessagePersistWorker {
	return &MessagePersistWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
	}
}

// Start opens a consumer channel and drains deliveries until the context is
// canceled or Close is called. Calling Start twice is a no-op.
func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.cancel = cancel
	w.wg.Add(1)
	go w.drain(workerCtx, ch, deliveries)
	return nil
}

func (w *MessagePersistWorker) drain(ctx context.Context, ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	defer w.wg.Done()
	defer ch.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.handle(d)
		}
	}
}

// handle nacks without requeue on failure; a poison envelope must not cycle
// through the queue forever.
func (w *MessagePersistWorker) handle(d amqp.Delivery) {
	var env model.MessageEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Printf("worker decode envelope failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.repo.CreateWithCitations(&env.Message, env.Citations); err != nil {
		log.Printf("worker persist message failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	_ = d.Ack(false)
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
