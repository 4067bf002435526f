// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	msgpackrpc "github.com/hashicorp/net-rpc-msgpackrpc/v2"
	"github.com/nkvstore/orchestrator/config"
	"github.com/nkvstore/orchestrator/configstore"
	"github.com/nkvstore/orchestrator/control"
	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/eventbus"
	"github.com/nkvstore/orchestrator/metrics"
	"github.com/nkvstore/orchestrator/structs"
)

// AgentCommand runs the long-lived process that hosts the rebalance and
// failover orchestrators and serves every other subcommand's RPCs.
type AgentCommand struct {
	Meta

	flagCluster     string
	flagBind        string
	flagMetricsBind string
	flagRaftDir     string
	flagLogLvl      string
}

func (c *AgentCommand) Help() string {
	return `Usage: orchestratorctl agent [options]

  Runs the orchestrator agent: hosts the rebalance and failover
  orchestrators and serves every other orchestratorctl subcommand.

Options:

  -cluster=<path>   Cluster descriptor JSON file (required)
  -bind=<addr>       Address to listen on (default 127.0.0.1:7954)
  -metrics-bind=<addr> Address to serve Prometheus metrics on (default
                      127.0.0.1:7955); empty disables it
  -raft-dir=<path>   If set, back the config store with raft at this
                      data directory instead of the in-memory store
  -log-level=<level> trace, debug, info, warn, or error (default info)
`
}

func (c *AgentCommand) Synopsis() string { return "Run the orchestrator agent" }

func (c *AgentCommand) Run(args []string) int {
	fs := c.FlagSet("agent")
	fs.StringVar(&c.flagCluster, "cluster", "", "")
	fs.StringVar(&c.flagBind, "bind", "127.0.0.1:7954", "")
	fs.StringVar(&c.flagMetricsBind, "metrics-bind", "127.0.0.1:7955", "")
	fs.StringVar(&c.flagRaftDir, "raft-dir", "", "")
	fs.StringVar(&c.flagLogLvl, "log-level", "info", "")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if c.flagCluster == "" {
		c.Ui.Error(c.Help())
		return 1
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "orchestratorctl",
		Level: hclog.LevelFromString(c.flagLogLvl),
	})

	cluster, err := loadCluster(c.flagCluster)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	addrs, err := loadNodeAddrs(c.flagCluster)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	store, err := c.openStore(cluster.Self, logger)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	dialer := func(node structs.NodeID) (string, error) {
		addr, ok := addrs[node]
		if !ok || addr == "" {
			return "", fmt.Errorf("no address known for node %s", node)
		}
		return addr, nil
	}
	engine := engineclient.NewRPCClient(logger, dialer, 5*time.Second)
	bus := eventbus.New(logger)

	ctrl := control.NewControl(cluster, store, engine, config.Default(), bus, logger)

	ln, err := net.Listen("tcp", c.flagBind)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("listen on %s: %s", c.flagBind, err))
		return 1
	}
	defer ln.Close()

	srv := rpc.NewServer()
	if err := srv.RegisterName("Control", ctrl); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	if c.flagMetricsBind != "" {
		if err := metrics.Init("orchestrator"); err != nil {
			c.Ui.Error(fmt.Sprintf("init metrics: %s", err))
			return 1
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go http.ListenAndServe(c.flagMetricsBind, mux)
	}

	c.Ui.Output(fmt.Sprintf("Agent listening on %s", ln.Addr()))
	go c.serve(ln, srv, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	c.Ui.Output("Shutting down")
	return 0
}

func (c *AgentCommand) serve(ln net.Listener, srv *rpc.Server, logger hclog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go srv.ServeCodec(msgpackrpc.NewServerCodec(conn))
	}
}

func (c *AgentCommand) openStore(self structs.NodeID, logger hclog.Logger) (configstore.Store, error) {
	if c.flagRaftDir == "" {
		return configstore.NewMemStore(logger), nil
	}
	return configstore.NewRaftStore(configstore.RaftStoreConfig{
		NodeID:    self,
		DataDir:   c.flagRaftDir,
		Bind:      c.flagBind,
		Bootstrap: true,
		Logger:    logger,
	})
}
