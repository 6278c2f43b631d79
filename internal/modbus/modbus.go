// Package modbus wraps a goburrow RTU client with a reconnect loop that
// polls the device while the port is open.
package modbus

import (
	"context"
	"log"
	"time"

	"github.com/goburrow/modbus"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	SlaveId  byte
	// PollInterval is the pause between polls.
	PollInterval time.Duration

	// Poll function to be called in a loop while the connection is active
	Poll func() error

	handler modbusHandler
	modbus.Client
}

func (c *Client) Connect(ctx context.Context) error {
	baud := c.BaudRate
	if baud == 0 {
		baud = 19200
	}
	handler := modbus.NewRTUClientHandler(c.Port)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = c.SlaveId
	c.handler = handler

	c.Client = modbus.NewClient(c.handler)
	go c.reconnectLoop(ctx)
	return nil
}

func (c *Client) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}

		err := c.handler.Connect()
		if err != nil {
			log.Printf("opening %q: %v", c.Port, err)
			continue
		}
		log.Printf("opened %q", c.Port)
		if err := c.watch(ctx); err != nil {
			log.Printf("watching %q: %v", c.Port, err)
		}
	}
}

func (c *Client) watch(ctx context.Context) error {
	defer c.handler.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
		if err := c.Poll(); err != nil {
			return err
		}
	}
}

// WriteCoils writes consecutive coils starting at first.
func (c *Client) WriteCoils(first int, values []bool) error {
	_, err := c.WriteMultipleCoils(uint16(first), uint16(len(values)), BitsToBytes(values))
	return err
}

func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}

// BitsToBytes packs bits least significant first, the coil order on the wire.
func BitsToBytes(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}
