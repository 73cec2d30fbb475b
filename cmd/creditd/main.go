package main

import (
	"os"
	"strconv"

	"github.com/agencykit/creditd/internal/clock"
	"github.com/agencykit/creditd/internal/config"
	"github.com/agencykit/creditd/internal/logger"
	"github.com/agencykit/creditd/internal/migration"
	"github.com/agencykit/creditd/internal/observability"
	"github.com/agencykit/creditd/internal/server"
	"github.com/agencykit/creditd/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(nodeID())
	if err != nil {
		panic(err)
	}
	return node
}

func nodeID() int64 {
	id, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE_ID"), 10, 64)
	if err != nil || id < 0 || id > 1023 {
		return 1
	}
	return id
}
