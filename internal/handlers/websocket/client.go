package websocket

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

type Client struct {
	User        types.User
	Conn        *websocket.Conn
	Send        chan []byte   // Channel for outgoing messages
	RateLimiter *rate.Limiter // Rate limiter to prevent spamming
	closed      bool          // Flag to check if the connection is closed
	mu          sync.Mutex    // Mutex to protect the closed flag
}

// trySend queues a message for the client. It reports false when the
// client is shutting down or its send buffer is full; checking closed
// and sending under the same lock as Disconnect means a concurrent
// disconnect can never close the channel mid-send.
func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// ReadMessages listens for incoming messages from the client.
func (c *Client) ReadMessages(handler *AuctionHandler) {
	defer func() {
		c.Disconnect(handler) // Ensure cleanup
		log.Debugf("Connection closed for client %s", c.User.ID)
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			log.Debugf("Error reading message from client %s: %v", c.User.ID, err)
			break
		}
		handler.HandleMessage(c, message)
	}
}

// WriteMessages sends outgoing messages to the client.
func (c *Client) WriteMessages() {
	defer func() {
		c.Conn.Close()
	}()

	for message := range c.Send {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}

		err := c.Conn.WriteMessage(websocket.TextMessage, message)
		c.mu.Unlock()

		if err != nil {
			log.Debugf("Error sending message to client %s: %v", c.User.ID, err)
			return
		}
	}
}

// Disconnect cleans up client resources.
func (c *Client) Disconnect(handler *AuctionHandler) {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	if handler != nil {
		handler.removeClient(c)
	}

	if c.Conn != nil {
		c.Conn.Close()
	}
	log.Debugf("Client %s cleanup completed", c.User.ID)
}
