package ws

import (
	"context"
	"errors"
	"sync"

	"tetatet/internal/models"
	"tetatet/internal/presence"

	"github.com/google/uuid"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventRouter interface {
	Connect(userID, connID string) *presence.Conn
	Disconnect(connID string)
	Dispatch(userID, connID string, ev models.ClientEvent)
}

// Connection glues one websocket to the router: a read pump feeding client
// events in, and a main loop writing server events out. The connection is
// registered with the router on creation and always unregistered when
// Handle returns.
type Connection struct {
	ws         wsConnection
	router     eventRouter
	userID     string
	connID     string
	fromClient chan models.ClientEvent
	fromServer <-chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(router eventRouter, ws wsConnection, userID string) *Connection {
	connID := uuid.NewString()
	return &Connection{
		ws:         ws,
		router:     router,
		userID:     userID,
		connID:     connID,
		fromClient: make(chan models.ClientEvent),
		fromServer: router.Connect(userID, connID).Events(),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.router.Disconnect(c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			c.router.Dispatch(c.userID, c.connID, ev)
		case ev, ok := <-c.fromServer:
			if !ok {
				// Registry closed our channel: unregistered elsewhere.
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
