package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"dinein_backend/internal/models"
	"dinein_backend/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64

	// DefaultHeartbeat applies when no heartbeat timeout is configured.
	DefaultHeartbeat = 60 * time.Second
)

// Inbound actions accepted from clients.
const (
	ActionJoinRole   = "join:role"
	ActionJoinTable  = "join:table"
	ActionJoinOrder  = "join:order"
	ActionLeaveOrder = "leave:order"
)

// Command is a message sent by a client.
type Command struct {
	Action       string `json:"action"`
	Role         string `json:"role,omitempty"`
	RestaurantID string `json:"restaurantId,omitempty"`
	TableID      string `json:"tableId,omitempty"`
	OrderID      string `json:"orderId,omitempty"`
}

// OrderAuthorizer decides whether actor may watch an order.
type OrderAuthorizer func(ctx context.Context, actor models.Actor, orderID string) error

var (
	errStaffOnly     = errors.New("role rooms require a staff session")
	errWrongRole     = errors.New("cannot join another role's room")
	errWrongSite     = errors.New("cannot join rooms of another restaurant")
	errWrongTable    = errors.New("cannot join another table's room")
	errUnboundTable  = errors.New("session is not bound to a table")
	errMissingTarget = errors.New("missing room target")
	errUnknownAction = errors.New("unknown action")
)

// Client is one websocket connection registered in the hub.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	actor     models.Actor
	authorize OrderAuthorizer
	heartbeat time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	orders map[string]Subscription
}

// NewClient wraps an upgraded connection. heartbeat is how long the client may
// stay silent (no pong) before it is dropped.
func NewClient(hub *Hub, conn *websocket.Conn, actor models.Actor, heartbeat time.Duration, authorize OrderAuthorizer) *Client {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Client{
		id:        uuid.NewString(),
		hub:       hub,
		conn:      conn,
		actor:     actor,
		authorize: authorize,
		heartbeat: heartbeat,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		orders:    make(map[string]Subscription),
	}
}

func (c *Client) ID() string { return c.id }

// Send implements Subscriber.
func (c *Client) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close implements Subscriber. The write pump closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Serve joins the session's default rooms and pumps messages until the
// connection ends or ctx is cancelled. It always leaves every room on return.
func (c *Client) Serve(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(c)
		c.Close()
	}()
	c.joinDefaultRooms()

	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	c.readPump(ctx)
}

func (c *Client) joinDefaultRooms() {
	switch {
	case c.actor.Role == models.RoleAdmin && c.actor.RestaurantID != "":
		c.hub.Join(RoleRoom(c.actor.RestaurantID, models.RoleWaiter), c)
		c.hub.Join(RoleRoom(c.actor.RestaurantID, models.RoleKitchenStaff), c)
	case c.actor.Role.IsStaff() && c.actor.RestaurantID != "":
		c.hub.Join(RoleRoom(c.actor.RestaurantID, c.actor.Role), c)
	case c.actor.Role == models.RoleCustomer && c.actor.TableID != "":
		c.hub.Join(TableRoom(c.actor.TableID), c)
	}
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.heartbeat))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.heartbeat))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.LogDebug("Websocket closed", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.heartbeat))
		c.handle(ctx, cmd)
	}
}

func (c *Client) handle(ctx context.Context, cmd Command) {
	room, err := c.apply(ctx, cmd)
	if err != nil {
		c.reply("error", map[string]string{"action": cmd.Action, "message": err.Error()})
		return
	}
	name := "joined"
	if cmd.Action == ActionLeaveOrder {
		name = "left"
	}
	c.reply(name, map[string]string{"room": room})
}

func (c *Client) apply(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Action {
	case ActionJoinRole:
		role, ok := models.ParseRole(cmd.Role)
		if !ok || !role.IsStaff() || !c.actor.Role.IsStaff() {
			return "", errStaffOnly
		}
		if c.actor.Role != models.RoleAdmin && role != c.actor.Role {
			return "", errWrongRole
		}
		restaurantID := cmd.RestaurantID
		if restaurantID == "" {
			restaurantID = c.actor.RestaurantID
		}
		if restaurantID == "" {
			return "", errMissingTarget
		}
		if c.actor.RestaurantID != "" && restaurantID != c.actor.RestaurantID {
			return "", errWrongSite
		}
		return c.hub.Join(RoleRoom(restaurantID, role), c).Room(), nil

	case ActionJoinTable:
		if cmd.TableID == "" {
			return "", errMissingTarget
		}
		if c.actor.Role == models.RoleCustomer {
			if c.actor.TableID == "" {
				return "", errUnboundTable
			}
			if c.actor.TableID != cmd.TableID {
				return "", errWrongTable
			}
		}
		return c.hub.Join(TableRoom(cmd.TableID), c).Room(), nil

	case ActionJoinOrder:
		if cmd.OrderID == "" {
			return "", errMissingTarget
		}
		if c.authorize != nil {
			if err := c.authorize(ctx, c.actor, cmd.OrderID); err != nil {
				return "", err
			}
		}
		sub := c.hub.Join(OrderRoom(cmd.OrderID), c)
		c.mu.Lock()
		c.orders[cmd.OrderID] = sub
		c.mu.Unlock()
		return sub.Room(), nil

	case ActionLeaveOrder:
		if cmd.OrderID == "" {
			return "", errMissingTarget
		}
		c.mu.Lock()
		sub, ok := c.orders[cmd.OrderID]
		delete(c.orders, cmd.OrderID)
		c.mu.Unlock()
		if ok {
			sub.Leave()
		}
		return OrderRoom(cmd.OrderID), nil
	}
	return "", errUnknownAction
}

func (c *Client) reply(name string, payload interface{}) {
	ev, err := NewEvent(name, payload)
	if err != nil {
		return
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.Send(msg)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.heartbeat * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
