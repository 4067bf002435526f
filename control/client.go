// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package control

import (
	"fmt"
	"net"
	"net/rpc"
	"time"

	msgpackrpc "github.com/hashicorp/net-rpc-msgpackrpc/v2"
)

// Client talks to an agent's Control service over net/rpc with the same
// msgpack codec engineclient.RPCClient uses to reach the engine.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to an agent listening at addr.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial agent at %s: %w", addr, err)
	}
	return &Client{rpc: rpc.NewClientWithCodec(msgpackrpc.NewClientCodec(conn))}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.rpc.Close() }

func (c *Client) StartRebalance(args RebalanceArgs) error {
	var reply RebalanceReply
	return c.rpc.Call("Control.StartRebalance", args, &reply)
}

func (c *Client) Stop() error {
	var reply Empty
	return c.rpc.Call("Control.Stop", Empty{}, &reply)
}

func (c *Client) OrchestrateFailover(args NodeArgs) (FailoverReply, error) {
	var reply FailoverReply
	err := c.rpc.Call("Control.OrchestrateFailover", args, &reply)
	return reply, err
}

func (c *Client) StartGracefulFailover(args NodeArgs) (FailoverReply, error) {
	var reply FailoverReply
	err := c.rpc.Call("Control.StartGracefulFailover", args, &reply)
	return reply, err
}

func (c *Client) ValidateAutoFailover(args NodeArgs) (ValidateReply, error) {
	var reply ValidateReply
	err := c.rpc.Call("Control.ValidateAutoFailover", args, &reply)
	return reply, err
}

func (c *Client) CheckFailoverPossible(args NodeArgs) (CheckReply, error) {
	var reply CheckReply
	err := c.rpc.Call("Control.CheckFailoverPossible", args, &reply)
	return reply, err
}
