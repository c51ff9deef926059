package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

var (
	ErrorDisconnected = errors.New("rabbitmq 연결 끊어짐, 재시도...")
	ErrNotConnected   = errors.New("PUSH 보내기 실패, 연결되지않음")
	ErrClosed         = errors.New("rabbitmq client closed")
)

const (
	reconnectDelay = time.Second * 5
	resendDelay    = time.Second * 5
)

// Handler processes one job id taken off the queue.
type Handler func(ctx context.Context, jobID string) error

// Client is a reconnecting publisher/consumer bound to one queue.
type Client struct {
	Queue  string
	logger zerolog.Logger

	mu            sync.RWMutex
	connection    *amqp.Connection
	channel       *amqp.Channel
	notifyClose   chan *amqp.Error
	notifyConfirm chan amqp.Confirmation
	isConnected   bool

	pushMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	threads   int
}

func New(queue, addr string, threads int, logger zerolog.Logger) *Client {
	if threads < 1 {
		threads = 1
	}
	client := Client{
		Queue:   queue,
		logger:  logger.With().Str("queue", queue).Logger(),
		done:    make(chan struct{}),
		threads: threads,
	}
	go client.reconnectHandler(addr)
	return &client
}

func (c *Client) reconnectHandler(addr string) {
	for {
		c.setConnected(false)
		t := time.Now()
		c.logger.Info().Msg("rabbitMQ 연결시도")
		var retryCount int
		for !c.connect(addr) {
			select {
			case <-c.done:
				return
			case <-time.After(reconnectDelay + time.Duration(retryCount)*time.Second):
				retryCount++
			}
		}
		c.logger.Info().Dur("elapsed", time.Since(t)).Msg("rabbitMQ 연결성공")

		c.mu.RLock()
		notifyClose := c.notifyClose
		c.mu.RUnlock()
		select {
		case <-c.done:
			return
		case err := <-notifyClose:
			c.logger.Warn().Err(err).Msg("rabbitMQ 연결 끊어짐")
		}
	}
}

func (c *Client) connect(addr string) bool {
	conn, err := amqp.Dial(addr)
	if err != nil {
		c.logger.Error().Err(err).Msg("rabbitMQ 연결실패")
		return false
	}
	ch, err := conn.Channel()
	if err != nil {
		c.logger.Error().Err(err).Msg("rabbitMQ 채널 연결 실패")
		conn.Close()
		return false
	}
	if err := ch.Confirm(false); err != nil {
		c.logger.Error().Err(err).Msg("rabbitMQ confirm 모드 설정 실패")
		conn.Close()
		return false
	}
	if _, err = ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		c.logger.Error().Err(err).Msg("rabbitMQ 대기열 선언 실패")
		conn.Close()
		return false
	}

	c.changeConnection(conn, ch)
	c.setConnected(true)
	return true
}

func (c *Client) changeConnection(connection *amqp.Connection, channel *amqp.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connection = connection
	c.channel = channel
	c.notifyClose = make(chan *amqp.Error, 1)
	c.notifyConfirm = make(chan amqp.Confirmation, 1)
	c.channel.NotifyClose(c.notifyClose)
	c.channel.NotifyPublish(c.notifyConfirm)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.isConnected = v
	c.mu.Unlock()
}

func (c *Client) connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// Dispatch queues a job id for a worker.
func (c *Client) Dispatch(ctx context.Context, jobID string) error {
	return c.Push(ctx, []byte(jobID))
}

// Push publishes data and waits for the broker to confirm it, republishing
// when no confirmation arrives in time.
func (c *Client) Push(ctx context.Context, data []byte) error {
	if !c.connected() {
		return ErrNotConnected
	}
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	for {
		err := c.UnsafePush(data)
		if err != nil {
			if errors.Is(err, ErrorDisconnected) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-c.done:
					return ErrClosed
				case <-time.After(time.Second):
				}
				continue
			}
			return err
		}

		c.mu.RLock()
		notifyConfirm := c.notifyConfirm
		c.mu.RUnlock()
		select {
		case confirm := <-notifyConfirm:
			if confirm.Ack {
				return nil
			}
		case <-time.After(resendDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		c.logger.Warn().Msg("push 확인 실패, 다시 보내는 중")
	}
}

// UnsafePush publishes without waiting for a confirmation.
func (c *Client) UnsafePush(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isConnected {
		return ErrorDisconnected
	}
	return c.channel.Publish(
		"",
		c.Queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Body:         data,
		},
	)
}

// Stream consumes job ids with the configured number of workers until ctx
// ends. It returns ErrorDisconnected when the broker dropped the channel, in
// which case the caller may stream again after the client reconnects.
func (c *Client) Stream(ctx context.Context, handle Handler) error {
	for !c.connected() {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return ErrClosed
		case <-time.After(time.Second):
		}
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()
	if err := ch.Qos(c.threads, 0, false); err != nil {
		return channelErr(err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return channelErr(err)
	}

	var (
		wg      sync.WaitGroup
		dropped bool
		once    sync.Once
	)
	for i := 0; i < c.threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						once.Do(func() { dropped = true })
						return
					}
					c.crawlerEvent(ctx, msg, handle)
				}
			}
		}()
	}
	wg.Wait()
	if dropped {
		return ErrorDisconnected
	}
	return nil
}

// channelErr reports a channel closed under us as a disconnect.
func channelErr(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return ErrorDisconnected
	}
	return err
}

func (c *Client) crawlerEvent(ctx context.Context, msg amqp.Delivery, handle Handler) {
	jobID := string(msg.Body)
	if err := handle(ctx, jobID); err != nil {
		c.logger.Error().Err(err).Str("job_id", jobID).Msg("job 처리 실패")
	}
	// a failed run is recorded on the job itself, redelivery would not help
	if err := msg.Ack(false); err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("ack 실패")
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.isConnected = false
		if c.channel != nil {
			err = c.channel.Close()
		}
		if c.connection != nil {
			err = errors.Join(err, c.connection.Close())
		}
	})
	return err
}
