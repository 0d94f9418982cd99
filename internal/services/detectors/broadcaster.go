package detectors

import (
	"fmt"
	"sync"

	"github.com/go-stomp/stomp/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
)

// alfrescoEventTopic is the repo event2 topic every Alfresco install
// publishes node lifecycle events on
const alfrescoEventTopic = "/topic/alfresco.repo.event2"

// broadcasterMailboxSize bounds each subscriber's fan-out channel
const broadcasterMailboxSize = 128

// stompBroadcaster holds one STOMP connection per (host, port) pair and
// fans incoming frames out to every registered detector. Multiple configs
// pointing at the same Alfresco broker share a single connection.
type stompBroadcaster struct {
	key    string
	logger arbor.ILogger

	mu          sync.Mutex
	conn        *stomp.Conn
	subscribers map[string]chan []byte
}

var (
	broadcastersMu sync.Mutex
	broadcasters   = make(map[string]*stompBroadcaster)
)

// acquireBroadcaster returns the broadcaster for a broker address,
// dialing it on first use
func acquireBroadcaster(logger arbor.ILogger, host string, port int, username, password string) (*stompBroadcaster, error) {
	key := fmt.Sprintf("%s:%d", host, port)

	broadcastersMu.Lock()
	defer broadcastersMu.Unlock()

	if b, ok := broadcasters[key]; ok {
		return b, nil
	}

	conn, err := stomp.Dial("tcp", key,
		stomp.ConnOpt.Login(username, password),
		stomp.ConnOpt.HeartBeatError(stompHeartbeatGrace))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to STOMP broker %s: %w", key, err)
	}

	sub, err := conn.Subscribe(alfrescoEventTopic, stomp.AckAuto)
	if err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", alfrescoEventTopic, err)
	}

	b := &stompBroadcaster{
		key:         key,
		logger:      logger,
		conn:        conn,
		subscribers: make(map[string]chan []byte),
	}
	broadcasters[key] = b

	common.SafeGo(logger, "stompBroadcast:"+key, func() {
		b.pump(sub)
	})

	logger.Info().Str("broker", key).Msg("STOMP broadcaster connected")
	return b, nil
}

// register adds a subscriber and returns its mailbox. The channel is
// closed when the subscriber is unregistered or the connection drops.
func (b *stompBroadcaster) register(configID string) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	mailbox := make(chan []byte, broadcasterMailboxSize)
	b.subscribers[configID] = mailbox
	return mailbox
}

// unregister removes a subscriber; the last one out tears down the
// connection so an idle broker link is never kept around
func (b *stompBroadcaster) unregister(configID string) {
	b.mu.Lock()
	mailbox, ok := b.subscribers[configID]
	if ok {
		delete(b.subscribers, configID)
		close(mailbox)
	}
	empty := len(b.subscribers) == 0
	b.mu.Unlock()

	if empty {
		broadcastersMu.Lock()
		delete(broadcasters, b.key)
		broadcastersMu.Unlock()
		b.conn.Disconnect()
		b.logger.Info().Str("broker", b.key).Msg("STOMP broadcaster disconnected")
	}
}

// pump reads frames off the broker subscription and fans them out. It
// exits when the subscription closes, closing every subscriber mailbox
// so detectors observe the disconnect.
func (b *stompBroadcaster) pump(sub *stomp.Subscription) {
	for msg := range sub.C {
		if msg.Err != nil {
			b.logger.Warn().
				Err(msg.Err).
				Str("broker", b.key).
				Msg("STOMP subscription error")
			break
		}
		b.fanout(msg.Body)
	}

	b.mu.Lock()
	for id, mailbox := range b.subscribers {
		close(mailbox)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	broadcastersMu.Lock()
	if broadcasters[b.key] == b {
		delete(broadcasters, b.key)
	}
	broadcastersMu.Unlock()
}

func (b *stompBroadcaster) fanout(body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, mailbox := range b.subscribers {
		select {
		case mailbox <- body:
		default:
			b.logger.Warn().
				Str("broker", b.key).
				Str("config_id", id).
				Msg("Broadcaster mailbox full, dropping frame")
		}
	}
}
