// Command hitlctl inspects and operates the approval workflow store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/config"
	"github.com/garyjia/hitl-workflow/internal/container"
	"github.com/garyjia/hitl-workflow/pkg/utils"
)

// Globals are the flags shared by every command
type Globals struct {
	Config   string `help:"Path to the YAML config file." default:"configs/config.yaml" env:"HITL_CONFIG" type:"path"`
	LogLevel string `help:"Log level written to stderr." default:"warn" enum:"debug,info,warn,error"`
}

// CLI is the command tree
type CLI struct {
	Globals

	List     ListCmd     `cmd:"" help:"List workflows."`
	Show     ShowCmd     `cmd:"" help:"Print one workflow as JSON."`
	Sweep    SweepCmd    `cmd:"" help:"Time out expired requests and republish lost notifications once."`
	Submit   SubmitCmd   `cmd:"" help:"Record a decision on a workflow."`
	Rollback RollbackCmd `cmd:"" help:"Withdraw the decision on a workflow."`
	Export   ExportCmd   `cmd:"" help:"Write workflows to an .xlsx file."`
	Migrate  MigrateCmd  `cmd:"" help:"Apply pending database migrations."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("hitlctl"),
		kong.Description("Operate the human-in-the-loop approval workflow store."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func (g *Globals) loadConfig() (*config.Config, error) {
	path := g.Config
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	return config.Load(path)
}

func (g *Globals) logger() (*zap.Logger, error) {
	return utils.NewLogger(utils.LoggerConfig{
		Level:      g.LogLevel,
		OutputPath: "stderr",
		Format:     "console",
	})
}

// session is an opened container plus its logger
type session struct {
	*container.Container
	cfg    *config.Config
	logger *zap.Logger
}

// open starts a container without workers or the intake bot. With the
// memory queue, published commands are applied before the command exits.
func (g *Globals) open(ctx context.Context) (*session, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := g.logger()
	if err != nil {
		return nil, err
	}

	opts := []container.Option{container.WithoutWorkers(), container.WithoutIntake()}
	if cfg.Queue.Driver == config.QueueMemory {
		opts = append(opts, container.WithInlineCommands())
	}

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return &session{Container: c, cfg: cfg, logger: logger}, nil
}

func (s *session) close() {
	if err := s.Close(); err != nil {
		s.logger.Error("Shutdown failed", zap.Error(err))
	}
	_ = s.logger.Sync()
}
