// =============================================================================
// WikiChat 主入口
// =============================================================================
// 基于维基知识检索的对话代理，包含交互式 REPL、HTTP/WebSocket 服务、
// 健康检查与 Prometheus 指标
//
// 使用方法:
//
//	wikichat chat                        # 启动交互式对话
//	wikichat chat --small                # 使用小模型
//	wikichat chat --offline              # 关闭知识检索
//	wikichat serve                       # 启动服务
//	wikichat serve --config config.yaml  # 指定配置文件
//	wikichat version                     # 显示版本信息
//	wikichat health                      # 健康检查
// =============================================================================
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/wikichat/config"
	"github.com/BaSui01/wikichat/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "chat":
		runChat(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置，应用命令行覆盖。
func loadConfig(configPath string, overrides func(*config.Config)) *config.Config {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if overrides != nil {
		overrides(cfg)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	small := fs.Bool("small", false, "Use the small generation model")
	offline := fs.Bool("offline", false, "Disable knowledge retrieval")
	verbose := fs.Bool("verbose", false, "Print retrieved knowledge and prompts")
	session := fs.String("session", "", "Resume an existing session ID")
	fs.Parse(args)

	cfg := loadConfig(*configPath, func(c *config.Config) {
		if *small {
			c.Generator.ModelSize = "small"
		}
		if *offline {
			c.Pipeline.KnowledgeEnabled = false
		}
		if *verbose {
			c.Log.Level = "debug"
		}
	})

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	application, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to assemble pipeline", zap.Error(err))
	}
	defer application.close()

	repl := newREPL(application, *session, *verbose)
	if err := repl.run(); err != nil {
		logger.Fatal("REPL terminated", zap.Error(err))
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath, nil)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting WikiChat",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		SampleRate:   cfg.Telemetry.SampleRate,
	}, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	application, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to assemble pipeline", zap.Error(err))
	}
	defer application.close()

	server := NewServer(cfg, application, logger, otelProviders)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()
	logger.Info("WikiChat stopped")
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("WikiChat %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`WikiChat - Knowledge-Grounded Dialogue Agent

Usage:
  wikichat <command> [options]

Commands:
  chat      Start an interactive chat session
  serve     Start the WikiChat server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'chat':
  --config <path>   Path to configuration file (YAML)
  --small           Use the small generation model
  --offline         Disable knowledge retrieval
  --verbose         Print retrieved knowledge and prompts
  --session <id>    Resume an existing session

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  wikichat chat
  wikichat chat --small --verbose
  wikichat serve --config /etc/wikichat/config.yaml
  wikichat health --addr http://localhost:8080
  wikichat version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
